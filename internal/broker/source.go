package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// OrderSource fetches the raw order history of the account as a JSON array.
type OrderSource interface {
	// GetAccountOrders returns orders entered within lookback of now,
	// optionally restricted to a broker order status such as FILLED.
	GetAccountOrders(ctx context.Context, status string, lookback time.Duration) ([]byte, error)
}

// CircuitBreakerSource wraps an OrderSource with circuit breaker functionality
type CircuitBreakerSource struct {
	source  OrderSource
	breaker *gobreaker.CircuitBreaker
}

var _ OrderSource = (*CircuitBreakerSource)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	source OrderSource,
	fn func(OrderSource) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(source) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips at a 60% failure rate over at least
// five requests and stays open for thirty seconds.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerSource creates a CircuitBreakerSource with default settings
func NewCircuitBreakerSource(source OrderSource, logger logrus.FieldLogger) *CircuitBreakerSource {
	return NewCircuitBreakerSourceWithSettings(source, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerSourceWithSettings creates a CircuitBreakerSource with custom settings
func NewCircuitBreakerSourceWithSettings(
	source OrderSource,
	settings CircuitBreakerSettings,
	logger logrus.FieldLogger,
) *CircuitBreakerSource {
	if logger == nil {
		logger = logrus.New()
	}
	gbSettings := gobreaker.Settings{
		Name:        "OrderSourceCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccountOrders wraps the underlying source call with circuit breaker
func (c *CircuitBreakerSource) GetAccountOrders(ctx context.Context, status string, lookback time.Duration) ([]byte, error) {
	return execCircuitBreaker(c.breaker, c.source, func(s OrderSource) ([]byte, error) {
		return s.GetAccountOrders(ctx, status, lookback)
	})
}

// State returns the current breaker state.
func (c *CircuitBreakerSource) State() gobreaker.State {
	return c.breaker.State()
}
