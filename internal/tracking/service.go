package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vitiligo-backend/internal/artifacts"
	"vitiligo-backend/internal/runs"
	"vitiligo-backend/internal/shared/metrics"
	"vitiligo-backend/internal/shared/telemetry"
	"vitiligo-backend/internal/workerproc"
)

const (
	StateValidating = "validating"
	StateEncoding   = "encoding"
	StateRunning    = "running"
	StateDecoding   = "decoding"
	StateDelivering = "delivering"
	StateDone       = "done"
	StateFailed     = "failed"

	defaultTimeout    = 120 * time.Second
	diagnosticLogMax  = 4096
	historyWriteLimit = 5 * time.Second
)

// Runner executes the analysis worker once.
type Runner interface {
	Run(ctx context.Context, input []byte, timeout time.Duration) (workerproc.Result, error)
}

// Deliverer streams a report to its caller and removes it.
type Deliverer interface {
	DeliverAndDelete(ctx context.Context, path, downloadName string, sink artifacts.Sink) error
}

// RunRecorder keeps run history. Failures to record never fail a run.
type RunRecorder interface {
	Start(ctx context.Context, run runs.Run) error
	Finish(ctx context.Context, run runs.Run) error
}

// Report describes a delivered tracking report.
type Report struct {
	RunID        string
	DownloadName string
	Summary      Summary
}

// Service orchestrates one tracking analysis per Run call.
type Service struct {
	Supervisor Runner
	Artifacts  Deliverer
	Timeout    time.Duration
	Runs       RunRecorder
	NewID      func() string
}

// Run validates req, runs the worker, and streams the resulting report into
// sink. It returns exactly one outcome: a Report or a JobError.
func (s *Service) Run(ctx context.Context, req AnalysisRequest, sink artifacts.Sink) (Report, *JobError) {
	start := time.Now()
	runID := s.newID()
	report := Report{RunID: runID, DownloadName: req.DownloadName()}
	metrics.IncTrackingStarted()

	s.recordStart(ctx, runs.Run{
		ID:            runID,
		RequestID:     requestIDFromContext(ctx),
		SubjectName:   req.SubjectName,
		IntervalWeeks: req.IntervalWeeks,
		CreatedAt:     start.UTC(),
	})

	summary, jobErr := s.run(ctx, runID, req, report.DownloadName, sink)
	report.Summary = summary

	elapsed := time.Since(start)
	metrics.ObserveTrackingDurationMs(metrics.SinceMillis(start))
	finished := runs.Run{ID: runID, DurationMs: elapsed.Milliseconds(), ChangePercentage: summary.ChangePercentage}
	if jobErr != nil {
		jobErr.RunID = runID
		metrics.IncTrackingFailed(string(jobErr.Kind))
		finished.FailureKind = string(jobErr.Kind)
		finished.FailureMessage = jobErr.Message
		if jobErr.ExitCode >= 0 {
			code := jobErr.ExitCode
			finished.ExitCode = &code
		}
		s.logFailure(ctx, jobErr, elapsed)
	} else {
		metrics.IncTrackingCompleted()
		code := 0
		finished.ExitCode = &code
		s.status(ctx, runID, StateDone, map[string]any{"duration_ms": elapsed.Milliseconds()})
	}
	s.recordFinish(ctx, finished)

	if jobErr != nil {
		return Report{}, jobErr
	}
	return report, nil
}

func (s *Service) run(ctx context.Context, runID string, req AnalysisRequest, downloadName string, sink artifacts.Sink) (Summary, *JobError) {
	s.status(ctx, runID, StateValidating, nil)
	if err := req.Validate(); err != nil {
		return Summary{}, newJobError(KindInvalidInput, validationMessage(err), err)
	}
	if s.Supervisor == nil || s.Artifacts == nil {
		return Summary{}, newJobError(KindWorkerUnavailable, "analysis worker is not configured", errors.New("missing dependencies"))
	}

	s.status(ctx, runID, StateEncoding, nil)
	payload, err := EncodeRequest(req)
	if err != nil {
		return Summary{}, newJobError(KindEncodingFailure, "failed to prepare analysis request", err)
	}

	meta := workerproc.ComputeMeta(payload)
	s.status(ctx, runID, StateRunning, map[string]any{"input_len": meta.Len, "input_sha": meta.SHA})
	res, err := s.Supervisor.Run(ctx, payload, s.timeout())
	if res.Duration > 0 {
		metrics.ObserveWorkerDurationMs(float64(res.Duration) / float64(time.Millisecond))
	}
	if err != nil {
		switch {
		case errors.Is(err, workerproc.ErrSpawn):
			return Summary{}, newJobError(KindWorkerUnavailable, "could not start analysis", err)
		case errors.Is(err, workerproc.ErrCanceled):
			return Summary{}, newJobError(KindCanceled, "analysis canceled by caller", err)
		default:
			jobErr := newJobError(KindWorkerFailure, "analysis worker failed", err)
			jobErr.Diagnostic = string(res.Stderr)
			return Summary{}, jobErr
		}
	}
	if len(res.Stderr) > 0 {
		telemetry.Info("tracking.worker.diagnostic", map[string]any{
			"run_id":     runID,
			"request_id": requestIDFromContext(ctx),
			"pid":        res.PID,
			"stderr":     telemetry.Clip(string(res.Stderr), diagnosticLogMax),
			"truncated":  res.Truncated,
		})
	}
	if res.InputErr != nil {
		telemetry.Warn("tracking.worker.input_incomplete", map[string]any{"run_id": runID, "error": res.InputErr})
	}

	s.status(ctx, runID, StateDecoding, map[string]any{"exit_code": res.ExitCode, "worker_ms": res.Duration.Milliseconds()})
	outcome := DecodeResult(res)
	switch outcome.Kind {
	case OutcomeTimeout:
		metrics.IncWorkerTimeout()
		jobErr := newJobError(KindWorkerTimeout, fmt.Sprintf("analysis did not finish within %s", s.timeout()), nil)
		jobErr.Diagnostic = outcome.Diagnostic
		return Summary{}, jobErr
	case OutcomeWorkerFailure:
		jobErr := newJobError(KindWorkerFailure, workerFailureMessage(outcome.ExitCode), nil)
		jobErr.ExitCode = outcome.ExitCode
		jobErr.Diagnostic = outcome.Diagnostic
		return Summary{}, jobErr
	case OutcomeProtocolFailure:
		jobErr := newJobError(KindProtocolFailure, "analysis worker returned an unexpected response", nil)
		jobErr.ExitCode = res.ExitCode
		jobErr.Diagnostic = outcome.RawOutput
		jobErr.ParseError = outcome.ParseError
		return Summary{}, jobErr
	}

	s.status(ctx, runID, StateDelivering, map[string]any{"report_path": outcome.ArtifactPath})
	if err := s.Artifacts.DeliverAndDelete(ctx, outcome.ArtifactPath, downloadName, sink); err != nil {
		switch {
		case errors.Is(err, artifacts.ErrArtifactMissing):
			return outcome.Summary, newJobError(KindReportNotFound, "generated report was not found", err)
		default:
			return outcome.Summary, newJobError(KindDeliveryFailure, "failed to deliver report", err)
		}
	}
	return outcome.Summary, nil
}

func (s *Service) status(ctx context.Context, runID, state string, extra map[string]any) {
	fields := map[string]any{
		"run_id":     runID,
		"request_id": requestIDFromContext(ctx),
		"state":      state,
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("tracking.status", fields)
}

func (s *Service) logFailure(ctx context.Context, jobErr *JobError, elapsed time.Duration) {
	fields := map[string]any{
		"run_id":      jobErr.RunID,
		"request_id":  requestIDFromContext(ctx),
		"state":       StateFailed,
		"kind":        string(jobErr.Kind),
		"message":     jobErr.Message,
		"duration_ms": elapsed.Milliseconds(),
	}
	if jobErr.ExitCode >= 0 {
		fields["exit_code"] = jobErr.ExitCode
	}
	if jobErr.Diagnostic != "" {
		fields["diagnostic"] = telemetry.Clip(jobErr.Diagnostic, diagnosticLogMax)
	}
	if jobErr.ParseError != "" {
		fields["parse_error"] = jobErr.ParseError
	}
	if jobErr.Err != nil {
		fields["error"] = jobErr.Err
	}
	switch jobErr.Kind {
	case KindInvalidInput, KindCanceled:
		telemetry.Warn("tracking.status", fields)
	default:
		telemetry.Error("tracking.status", fields)
	}
}

func (s *Service) recordStart(ctx context.Context, run runs.Run) {
	if s.Runs == nil {
		return
	}
	rctx, cancel := context.WithTimeout(backgroundWithRequestID(ctx), historyWriteLimit)
	defer cancel()
	if err := s.Runs.Start(rctx, run); err != nil {
		telemetry.Error("tracking.history_failed", map[string]any{"run_id": run.ID, "op": "start", "error": err})
	}
}

func (s *Service) recordFinish(ctx context.Context, run runs.Run) {
	if s.Runs == nil {
		return
	}
	rctx, cancel := context.WithTimeout(backgroundWithRequestID(ctx), historyWriteLimit)
	defer cancel()
	if err := s.Runs.Finish(rctx, run); err != nil {
		telemetry.Error("tracking.history_failed", map[string]any{"run_id": run.ID, "op": "finish", "error": err})
	}
}

func (s *Service) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultTimeout
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func validationMessage(err error) string {
	msg := err.Error()
	prefix := ErrInvalidInput.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func workerFailureMessage(exitCode int) string {
	if exitCode == 0 {
		return "analysis worker reported an error"
	}
	return fmt.Sprintf("analysis worker exited with status %d", exitCode)
}
