package idempotency

import (
	"context"
	"fmt"
	"time"

	"newsletter-backend/metrics"

	"go.uber.org/zap"
)

// Expirer deletes idempotency records older than a TTL.
type Expirer interface {
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// Sweeper periodically reclaims expired idempotency records.
// Once a key's record is gone, a retry with that key is processed as a new request.
type Sweeper struct {
	expirer  Expirer
	ttl      time.Duration
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(expirer Expirer, ttl, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		expirer:  expirer,
		ttl:      ttl,
		interval: interval,
		log:      log.Named("idempotency-sweeper"),
	}
}

// Run sweeps immediately and then on every interval tick until ctx is done.
// A failed sweep is logged and never stops the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("idempotency sweeper started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			s.log.Info("idempotency sweeper stopped")
			return nil
		}
		s.SweepOnce(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("idempotency sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single sweep and reports how many records were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (deleted int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("idempotency sweep panicked: %v", r)
		}
		if err != nil {
			metrics.IdempotencySweepFailures.Inc()
			s.log.Error("failed to expire idempotency keys", zap.Error(err))
		}
	}()

	deleted, err = s.expirer.DeleteExpired(ctx, s.ttl)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		metrics.IdempotencySwept.Add(float64(deleted))
		s.log.Debug("expired idempotency keys", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}
