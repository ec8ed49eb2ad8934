package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"arcadepool/period"
)

// Scheduler fires a settlement just after each window closes. It calls the
// same Settle entry point as the operator-triggered path, so the persisted
// idempotency guard decides, not the trigger.
type Scheduler struct {
	engine   *Engine
	duration time.Duration
	logger   *slog.Logger
}

// NewScheduler constructs a scheduler for the given window duration.
func NewScheduler(engine *Engine, duration time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{engine: engine, duration: duration, logger: logger}
}

// Run settles each window shortly after it closes, until the context is
// cancelled. On startup the previous window is settled first in case the
// process was down across a boundary.
func (s *Scheduler) Run(ctx context.Context) {
	if s.engine == nil || s.duration <= 0 {
		return
	}
	previous := period.Compute(time.Now().Add(-s.duration), s.duration)
	s.settle(ctx, previous.Index)
	for {
		current := period.Compute(time.Now(), s.duration)
		fireAt := current.End.Add(period.BoundaryOffset)
		timer := time.NewTimer(time.Until(fireAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.settle(ctx, current.Index)
		}
	}
}

func (s *Scheduler) settle(ctx context.Context, index int64) {
	rec, err := s.engine.Settle(ctx, index)
	switch {
	case errors.Is(err, ErrPaused):
		s.logger.Info("scheduled settlement skipped, engine paused", "period", index)
	case err != nil:
		s.logger.Error("scheduled settlement error", "period", index, "err", err)
	default:
		s.logger.Info("scheduled settlement done", "period", index, "status", rec.Status)
	}
}
