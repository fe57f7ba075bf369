package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that trips after 3 failures
	cb := NewCircuitBreaker("oracle", WithMaxFailures(3))

	// When: three calls fail
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}

	// Then: the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, HasCode(err, ErrCodeUpstreamUnavailable))
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	// Given: an open breaker
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("oracle",
		WithMaxFailures(1),
		WithResetTimeout(time.Minute),
		WithClock(clock.Now),
	)
	_ = cb.Execute(func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())

	// When: the reset window passes
	clock.Advance(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Then: a successful trial call closes the circuit
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedTrialCallReopens(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("oracle",
		WithMaxFailures(1),
		WithResetTimeout(time.Minute),
		WithClock(clock.Now),
	)
	_ = cb.Execute(func() error { return errors.New("down") })
	clock.Advance(2 * time.Minute)

	// When: the trial call fails
	_ = cb.Execute(func() error { return errors.New("still down") })

	// Then: circuit reopens
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(5))
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("error") })
	}

	err := cb.Execute(func() error { return nil })

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitExecute_ReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker("oracle")
	got, err := CircuitExecute(cb, func() (int, error) { return 42, nil })
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("oracle", WithMaxFailures(100))

	var wg sync.WaitGroup
	var total atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return errors.New("error")
			})
			total.Add(1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), total.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
