package runs

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `id, request_id, subject_name, interval_weeks, status, failure_kind, failure_message,
       exit_code, change_percentage, duration_ms, created_at, completed_at`

// Create inserts a run.
func (r *PGRepo) Create(ctx context.Context, run Run) error {
	const query = `
INSERT INTO tracking_runs (
    id, request_id, subject_name, interval_weeks, status, failure_kind, failure_message,
    exit_code, change_percentage, duration_ms, created_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.DB.ExecContext(ctx, query,
		run.ID,
		run.RequestID,
		run.SubjectName,
		run.IntervalWeeks,
		run.Status,
		run.FailureKind,
		run.FailureMessage,
		nullableInt(run.ExitCode),
		nullableFloat(run.ChangePercentage),
		run.DurationMs,
		run.CreatedAt,
		run.CompletedAt,
	)
	return err
}

// Update records the terminal state of a run.
func (r *PGRepo) Update(ctx context.Context, run Run) error {
	const query = `
UPDATE tracking_runs
SET status = $2, failure_kind = $3, failure_message = $4, exit_code = $5,
    change_percentage = $6, duration_ms = $7, completed_at = $8
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.FailureKind,
		run.FailureMessage,
		nullableInt(run.ExitCode),
		nullableFloat(run.ChangePercentage),
		run.DurationMs,
		run.CompletedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a run by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Run, error) {
	query := `
SELECT ` + runColumns + `
FROM tracking_runs
WHERE id = $1
LIMIT 1`
	run, err := scanRun(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// List lists runs ordered newest-first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
SELECT ` + runColumns + `
FROM tracking_runs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`

	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run         Run
		exitCode    sql.NullInt64
		change      sql.NullFloat64
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.RequestID,
		&run.SubjectName,
		&run.IntervalWeeks,
		&run.Status,
		&run.FailureKind,
		&run.FailureMessage,
		&exitCode,
		&change,
		&run.DurationMs,
		&run.CreatedAt,
		&completedAt,
	); err != nil {
		return Run{}, err
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		run.ExitCode = &v
	}
	if change.Valid {
		v := change.Float64
		run.ChangePercentage = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		run.CompletedAt = &v
	}
	return run, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ Repo = (*PGRepo)(nil)
