package artifacts

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"vitiligo-backend/internal/shared/metrics"
	"vitiligo-backend/internal/shared/telemetry"
)

// SweepOrphans removes regular files under Root last modified more than
// maxAge ago. These are reports whose run timed out or whose caller went away
// before delivery. A missing Root is not an error.
func (s *Store) SweepOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	if s == nil || s.Root == "" {
		return 0, ErrNoRoot
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Deleted between listing and stat, most likely by a delivery.
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				telemetry.Error("artifacts.sweep.delete_failed", map[string]any{"path": path, "error": err})
			}
			return nil
		}
		removed++
		return nil
	})
	if removed > 0 {
		metrics.AddArtifactsSwept(removed)
	}
	return removed, err
}

// Janitor periodically sweeps orphaned reports.
type Janitor struct {
	Store    *Store
	MaxAge   time.Duration
	Interval time.Duration
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil || j.Store == nil || j.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		j.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	removed, err := j.Store.SweepOrphans(ctx, j.MaxAge)
	if err != nil && ctx.Err() == nil {
		telemetry.Error("artifacts.sweep.failed", map[string]any{"root": j.Store.Root, "error": err})
		return
	}
	if removed > 0 {
		telemetry.Info("artifacts.sweep.completed", map[string]any{"root": j.Store.Root, "removed": removed})
	}
}
