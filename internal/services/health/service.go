package health

import (
	"context"
	"os/exec"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	DB Pinger
	// WorkerBinary is the executable the supervisor launches.
	WorkerBinary string
	lookPath     func(string) (string, error)
}

// NewService constructs a new health service. db may be nil.
func NewService(db Pinger, workerBinary string) *Service {
	return &Service{DB: db, WorkerBinary: workerBinary, lookPath: exec.LookPath}
}

// Status reports whether the service can accept tracking requests. The
// database is optional; a missing worker binary makes the service unhealthy.
func (s *Service) Status(ctx context.Context) (bool, map[string]string) {
	checks := map[string]string{"database": "disabled", "worker": "ok"}
	ok := true

	if s.DB != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.DB.PingContext(pctx); err != nil {
			checks["database"] = "unreachable"
			ok = false
		} else {
			checks["database"] = "ok"
		}
	}

	lookPath := s.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if s.WorkerBinary == "" {
		checks["worker"] = "not configured"
		ok = false
	} else if _, err := lookPath(s.WorkerBinary); err != nil {
		checks["worker"] = "not found"
		ok = false
	}
	return ok, checks
}
