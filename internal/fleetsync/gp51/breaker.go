package gp51

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/pkg/metrics"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

const breakerName = "gp51-api"

var _ core.Provider = (*BreakerProvider)(nil)

// BreakerProvider guards a Provider with a circuit breaker. Only connectivity
// failures count against the circuit; provider rejections are answers.
type BreakerProvider struct {
	next   core.Provider
	cb     *gobreaker.CircuitBreaker[any]
	logger log.Logger
}

// NewBreakerProvider wraps next. The circuit opens after five consecutive
// connectivity failures and probes again after timeout.
func NewBreakerProvider(next core.Provider, timeout time.Duration) *BreakerProvider {
	logger := log.WithName("gp51-breaker")

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !core.IsKind(err, core.KindConnectivity)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state transition", "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerProvider{next: next, cb: cb, logger: logger}
}

// State returns the circuit state name: closed, half-open or open.
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}

func (b *BreakerProvider) Authenticate(ctx context.Context, creds model.Credentials) (core.AuthResult, error) {
	return castResult[core.AuthResult](b.execute(actionLogin, func() (any, error) {
		return b.next.Authenticate(ctx, creds)
	}))
}

func (b *BreakerProvider) FetchPositions(ctx context.Context, deviceIDs []string, token string) (core.FetchResult, error) {
	return castResult[core.FetchResult](b.execute(actionLastPosition, func() (any, error) {
		return b.next.FetchPositions(ctx, deviceIDs, token)
	}))
}

func (b *BreakerProvider) TestConnectivity(ctx context.Context, token string) error {
	_, err := b.execute(actionQueryMonitorList, func() (any, error) {
		return nil, b.next.TestConnectivity(ctx, token)
	})
	return err
}

func (b *BreakerProvider) execute(op string, fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err == nil {
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
		b.logger.Warn("Provider call rejected by open circuit", "op", op)
		return nil, core.NewError(core.KindConnectivity, op, err)
	}

	metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	return nil, err
}

// castResult type-asserts the breaker's untyped result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, core.NewError(core.KindAPI, "circuit breaker", fmt.Errorf("unexpected result type %T", result))
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
