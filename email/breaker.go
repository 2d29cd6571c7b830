package email

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSender stops calling a failing transport for a while. While the
// breaker is open Send fails fast with gobreaker.ErrOpenState.
type BreakerSender struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

var DefaultBreakerConfig = BreakerConfig{
	ConsecutiveFailures: 5,
	OpenTimeout:         30 * time.Second,
	HalfOpenRequests:    1,
}

func NewBreakerSender(next Sender, cfg BreakerConfig, log *zap.Logger) *BreakerSender {
	if log == nil {
		log = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "email",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("email circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerSender{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (s *BreakerSender) Send(ctx context.Context, msg Message) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, msg)
	})
	return err
}

func (s *BreakerSender) State() gobreaker.State {
	return s.breaker.State()
}
