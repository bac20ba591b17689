package ledger

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/richardliu001/transaction-service/internal/metrics"
)

// Breaker wraps gobreaker with Prometheus state and failure metrics.
type Breaker struct {
	*gobreaker.CircuitBreaker
	name string
}

// NewBreaker trips when at least 3 requests were seen in window and 60% failed.
// It stays open for openFor before letting probes through.
func NewBreaker(name string, window, openFor time.Duration, log *zap.SugaredLogger) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    window,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(cbName string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(cbName).Set(stateValue(to))
			log.Infow("circuit breaker state changed", "circuit", cbName, "from", from.String(), "to", to.String())
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return &Breaker{CircuitBreaker: cb, name: name}
}

// Execute runs fn through the breaker and counts failures.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.CircuitBreaker.Execute(fn)
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(b.name).Inc()
	}
	return res, err
}

// IsOpen reports whether err was produced by the breaker rejecting the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
