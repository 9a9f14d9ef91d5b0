package dialer

import (
	"context"
	"log/slog"
	"time"

	"dialer-platform/internal/config"
)

// Reaper periodically fails attempts that never reached a terminal state,
// typically because the event stream dropped their hangup or the process
// that owned them died.
type Reaper struct {
	manager *Manager
	cfg     config.DialerConfig
	logger  *slog.Logger

	clock func() time.Time
}

func NewReaper(manager *Manager, cfg config.DialerConfig, logger *slog.Logger) *Reaper {
	return &Reaper{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on the configured interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resolves every attempt stuck non-terminal longer than the stale
// cutoff.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.clock().Add(-r.cfg.StaleAfter)
	swept, err := r.manager.SweepStale(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale attempt sweep", "error", err)
		return
	}
	if swept > 0 {
		r.logger.Info("swept stale attempts", "count", swept, "cutoff", cutoff)
	}
}
