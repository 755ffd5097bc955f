package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired idempotency records.
type Sweeper struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper constructs a sweeper over store.
func NewSweeper(store Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Sweep removes records that expired before now and returns how many went.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireIdempotency(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired idempotency records removed", slog.Int64("count", n))
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. A non-positive interval disables it.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("idempotency sweeper disabled", slog.Duration("interval", interval))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("idempotency sweep failed", slog.Any("error", err))
			}
		}
	}
}
