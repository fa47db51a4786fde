package runs

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Service records and serves tracking run history.
type Service struct {
	Repo Repo
	Now  func() time.Time
}

// NewService constructs a Service backed by repo.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo, Now: time.Now}
}

// Start records a new run in the running state.
func (s *Service) Start(ctx context.Context, run Run) error {
	if s == nil || s.Repo == nil {
		return errors.New("missing dependencies")
	}
	if strings.TrimSpace(run.ID) == "" {
		return ErrInvalidInput
	}
	run.Status = StatusRunning
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	return s.Repo.Create(ctx, run)
}

// Finish records the terminal state of a run. An empty FailureKind marks it completed.
func (s *Service) Finish(ctx context.Context, run Run) error {
	if s == nil || s.Repo == nil {
		return errors.New("missing dependencies")
	}
	if strings.TrimSpace(run.ID) == "" {
		return ErrInvalidInput
	}
	if run.FailureKind == "" {
		run.Status = StatusCompleted
	} else {
		run.Status = StatusFailed
	}
	if run.CompletedAt == nil {
		now := s.now()
		run.CompletedAt = &now
	}
	return s.Repo.Update(ctx, run)
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, id string) (Run, error) {
	if strings.TrimSpace(id) == "" {
		return Run{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, id)
}

// List returns runs ordered newest-first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Run, error) {
	return s.Repo.List(ctx, limit, offset)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
