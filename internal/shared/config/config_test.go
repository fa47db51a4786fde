package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadWorkerSettings(t *testing.T) {
	t.Setenv("WORKER_COMMAND", "python3  -u worker.py")
	t.Setenv("WORKER_TIMEOUT_SECONDS", "45")
	t.Setenv("REPORT_ARCHIVE", "S3")
	t.Setenv("TRACKING_EXPOSE_DIAGNOSTICS", "true")

	cfg := Load()

	if want := []string{"python3", "-u", "worker.py"}; !reflect.DeepEqual(cfg.WorkerCommand, want) {
		t.Fatalf("WorkerCommand = %v, want %v", cfg.WorkerCommand, want)
	}
	if cfg.WorkerTimeout != 45*time.Second {
		t.Fatalf("WorkerTimeout = %s, want 45s", cfg.WorkerTimeout)
	}
	if cfg.ReportArchive != "s3" {
		t.Fatalf("ReportArchive = %q, want s3", cfg.ReportArchive)
	}
	if !cfg.ExposeDiagnostics {
		t.Fatalf("expected ExposeDiagnostics")
	}
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("WORKER_TIMEOUT_SECONDS", "soon")
	t.Setenv("REPORT_ARCHIVE", "ftp")
	t.Setenv("ENV", "prod")

	cfg := Load()

	if cfg.WorkerTimeout != 120*time.Second {
		t.Fatalf("WorkerTimeout = %s, want default 120s", cfg.WorkerTimeout)
	}
	if cfg.ReportArchive != "none" {
		t.Fatalf("ReportArchive = %q, want none", cfg.ReportArchive)
	}
	if cfg.Env != "production" {
		t.Fatalf("Env = %q, want production", cfg.Env)
	}
}

// The default worker writes under python-scripts/generated_reports, so the
// reports dir must default to the same place or every report is refused.
func TestLoadReportsDirMatchesDefaultWorker(t *testing.T) {
	t.Setenv("WORKER_COMMAND", "")
	t.Setenv("REPORTS_DIR", "")

	cfg := Load()

	if want := []string{"python3", "python-scripts/track_vitiligo.py"}; !reflect.DeepEqual(cfg.WorkerCommand, want) {
		t.Fatalf("WorkerCommand = %v, want %v", cfg.WorkerCommand, want)
	}
	if cfg.ReportsDir != "./python-scripts/generated_reports" {
		t.Fatalf("ReportsDir = %q, want ./python-scripts/generated_reports", cfg.ReportsDir)
	}
}
