package tokens

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired records. Expiry is enforced lazily on
// redeem as well, so the sweeper only bounds storage growth.
type Sweeper struct {
	svc      Service
	interval time.Duration
	timeout  time.Duration
}

func NewSweeper(svc Service, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, timeout: timeout}
}

// Run blocks until ctx is cancelled. A non-positive interval returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.svc.Sweep(sctx)
	if err != nil {
		slog.Warn("token sweep failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("swept expired tokens", "count", n)
	}
}
