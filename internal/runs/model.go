package runs

import "time"

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is the persisted summary of one tracking orchestration. It never holds
// the uploaded images or report contents.
type Run struct {
	ID               string
	RequestID        string
	SubjectName      string
	IntervalWeeks    string
	Status           string
	FailureKind      string
	FailureMessage   string
	ExitCode         *int
	ChangePercentage *float64
	DurationMs       int64
	CreatedAt        time.Time
	CompletedAt      *time.Time
}
