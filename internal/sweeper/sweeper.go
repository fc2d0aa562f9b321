package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/nstepanenko/webstore/internal/repo"
)

// Sweeper deletes expired ledger rows on a fixed interval, off the request
// path. Rotation and read-time validity checks do not depend on it; the sweep
// only keeps the table from growing without bound.
type Sweeper struct {
	Repo     *repo.GormRepo
	Interval time.Duration
	Log      *slog.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	purged, err := s.Repo.PurgeExpired(sweepCtx)
	if err != nil {
		s.Log.Error("token_sweep_failed", "error", err)
		return
	}
	s.Log.Info("token_sweep_done", "purged", purged)
}
