package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingFetch(err error) func(ctx context.Context) error {
	return func(ctx context.Context) error { return err }
}

func TestCircuitBreakerClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	calls := 0
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	providerDown := eris.New("fx: provider returned 503")

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failingFetch(providerDown))
		assert.ErrorIs(t, err, providerDown)
	}

	assert.Equal(t, CircuitOpen, cb.State())

	// An open circuit rejects without hitting the provider again.
	calls := 0
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	blip := eris.New("eventstore: query orders: connection reset by peer")

	require.Error(t, cb.Execute(context.Background(), failingFetch(blip)))
	require.Error(t, cb.Execute(context.Background(), failingFetch(blip)))
	require.NoError(t, cb.Execute(context.Background(), failingFetch(nil)))

	failures, state := cb.Counters()
	assert.Equal(t, 0, failures)
	assert.Equal(t, CircuitClosed, state)

	// Two more failures still shouldn't open it.
	require.Error(t, cb.Execute(context.Background(), failingFetch(blip)))
	require.Error(t, cb.Execute(context.Background(), failingFetch(blip)))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
	})
	cb.nowFunc = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failingFetch(eris.New("fx: provider returned 502"))))
	require.Equal(t, CircuitOpen, cb.State())

	// Still inside the reset window.
	now = now.Add(10 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), failingFetch(nil)), ErrCircuitOpen)

	// Past the window the breaker admits a single recovery check.
	now = now.Add(25 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), failingFetch(nil)))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
	})
	cb.nowFunc = func() time.Time { return now }

	stillDown := eris.New("fx: provider returned 503")
	require.Error(t, cb.Execute(context.Background(), failingFetch(stillDown)))
	now = now.Add(2 * time.Second)
	require.Equal(t, CircuitHalfOpen, cb.State())

	// The recovery check fails, so the circuit snaps back open.
	require.Error(t, cb.Execute(context.Background(), failingFetch(stillDown)))
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), failingFetch(nil)), ErrCircuitOpen)
}

func TestCircuitBreakerOnStateChange(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	type transition struct{ from, to CircuitState }
	var transitions []transition

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, transition{from, to})
		},
	})
	cb.nowFunc = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failingFetch(eris.New("fx: provider returned 500"))))
	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), failingFetch(nil)))

	require.Len(t, transitions, 3)
	assert.Equal(t, transition{CircuitClosed, CircuitOpen}, transitions[0])
	assert.Equal(t, transition{CircuitOpen, CircuitHalfOpen}, transitions[1])
	assert.Equal(t, transition{CircuitHalfOpen, CircuitClosed}, transitions[2])
}

func TestCircuitBreakerShouldTripFilter(t *testing.T) {
	// With ShouldTrip = IsTransient, a permanent provider error (missing
	// rate) flows through without counting toward the threshold.
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ShouldTrip:       IsTransient,
	})

	missingRate := eris.New("fx: provider response missing rate for EUR")
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), failingFetch(missingRate)), missingRate)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	throttled := NewTransientError(eris.New("fx: provider returned 429"), 429)
	require.Error(t, cb.Execute(context.Background(), failingFetch(throttled)))
	require.Error(t, cb.Execute(context.Background(), failingFetch(throttled)))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	require.Error(t, cb.Execute(context.Background(), failingFetch(eris.New("fx: provider returned 503"))))
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), failingFetch(nil)))
}

func TestExecuteValReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	rate, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (float64, error) {
		return 0.0068, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0068, rate)
}

func TestExecuteValOpenCircuitReturnsZeroValue(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	require.Error(t, cb.Execute(context.Background(), failingFetch(eris.New("fx: provider returned 503"))))

	rate, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (float64, error) {
		return 1.08, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, rate)
}

func TestServiceBreakersKeyedByCollection(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1})

	orders := sb.Get("orders")
	assert.Same(t, orders, sb.Get("orders"))
	assert.NotSame(t, orders, sb.Get("refunds"))

	// Opening the orders breaker leaves refunds untouched.
	require.Error(t, orders.Execute(context.Background(), failingFetch(eris.New("eventstore: query orders: conn busy"))))

	states := sb.States()
	assert.Equal(t, CircuitOpen, states["orders"])
	assert.Equal(t, CircuitClosed, states["refunds"])
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := eris.New("eventstore: query snapshots: i/o timeout")
			if i%2 == 0 {
				err = nil
			}
			_ = cb.Execute(context.Background(), failingFetch(err))
			cb.State()
			cb.Counters()
		}(i)
	}
	wg.Wait()
}
