package publisher

import (
	"context"
	"log/slog"
	"time"
)

// Recoverer fails checkouts that stopped moving, escalating the ones that
// may hold a charge.
type Recoverer interface {
	RecoverStuckSessions(ctx context.Context, olderThan time.Duration) (int, error)
}

type Sweeper struct {
	tick      time.Duration
	olderThan time.Duration
	recoverer Recoverer
	log       *slog.Logger
}

func NewSweeper(recoverer Recoverer, olderThan time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		tick:      max(olderThan/2, time.Second),
		olderThan: olderThan,
		recoverer: recoverer,
		log:       log,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.recoverer.RecoverStuckSessions(ctx, s.olderThan)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to recover stuck checkouts", "error", err)
		return
	}
	if n > 0 {
		s.log.WarnContext(ctx, "recovered stuck checkouts", "count", n)
	}
}
