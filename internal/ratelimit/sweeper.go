package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically drops expired rows from the SQL counter table.
type Sweeper struct {
	store    *SQLStore
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(store *SQLStore, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, interval: interval, log: log.Named("ratelimit.sweeper")}
}

func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx)
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		removed, err := s.RunOnce(ctx)
		if err != nil {
			s.log.Warn("rate window sweep failed", zap.Error(err))
			continue
		}
		if removed > 0 {
			s.log.Debug("rate windows swept", zap.Int64("removed", removed))
		}
	}
}
