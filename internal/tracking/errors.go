package tracking

import (
	"errors"
	"fmt"
)

// ErrInvalidInput indicates a request missing an image or metadata field.
var ErrInvalidInput = errors.New("invalid input")

// Kind is the stable failure category reported to callers.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindEncodingFailure   Kind = "encoding_failure"
	KindWorkerUnavailable Kind = "worker_unavailable"
	KindWorkerTimeout     Kind = "worker_timeout"
	KindWorkerFailure     Kind = "worker_failure"
	KindProtocolFailure   Kind = "protocol_failure"
	KindReportNotFound    Kind = "report_not_found"
	KindDeliveryFailure   Kind = "delivery_failure"
	KindCanceled          Kind = "canceled"
)

// JobError is the single failure outcome of a tracking run.
type JobError struct {
	Kind    Kind
	Message string
	// RunID identifies the run in history and logs.
	RunID string
	// ExitCode is set for worker failures; -1 otherwise.
	ExitCode int
	// Diagnostic holds raw worker text (stderr, error message or unparseable
	// stdout). It is logged and only returned to callers in debug mode.
	Diagnostic string
	// ParseError is set for protocol failures.
	ParseError string
	Err        error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error { return e.Err }

func newJobError(kind Kind, message string, err error) *JobError {
	return &JobError{Kind: kind, Message: message, ExitCode: -1, Err: err}
}
