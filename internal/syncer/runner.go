package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/pkg/model"
)

// Cycler runs one sync cycle.
type Cycler interface {
	Run(ctx context.Context) (model.Session, error)
}

// Runner schedules cycles on a fixed interval and accepts manual triggers
// from the ops API. One cycle runs at a time; triggers arriving mid-cycle
// coalesce into a single queued run.
type Runner struct {
	logger   *zap.Logger
	cycler   Cycler
	interval time.Duration
	trigger  chan struct{}
}

func NewRunner(logger *zap.Logger, cycler Cycler, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Runner{
		logger:   logger,
		cycler:   cycler,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate cycle. Returns false when a trigger is
// already queued.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start runs the first cycle immediately, then loops until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if sess, err := r.cycler.Run(ctx); err != nil {
			r.logger.Warn("syncer.cycle_failed",
				zap.String("session_id", sess.ID.String()),
				zap.String("status", string(sess.Status)),
				zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-r.trigger:
			r.logger.Info("syncer.manual_trigger")
		case <-ctx.Done():
			r.logger.Info("syncer.stopped")
			return
		}
	}
}
