package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, s Settings) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New("test", s, zaptest.NewLogger(t))
	b.now = clock.now
	b.mu.Lock()
	b.resetLocked(clock.now())
	b.mu.Unlock()
	return b, clock
}

func fail() error { return errBoom }
func succeed() error { return nil }

func TestBreakerStates(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		HalfOpenMax:      5,
		OpenTimeout:      time.Second,
	})
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Do(succeed))
	}
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	clock.advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 1, SuccessThreshold: 2, HalfOpenMax: 1, OpenTimeout: time.Second})

	_ = b.Do(fail)
	require.Equal(t, StateOpen, b.State())

	clock.advance(time.Second + time.Millisecond)
	_ = b.Do(fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimit(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 1, SuccessThreshold: 5, HalfOpenMax: 2, OpenTimeout: time.Second})

	_ = b.Do(fail)
	clock.advance(2 * time.Second)

	require.NoError(t, b.Do(succeed))
	require.NoError(t, b.Do(succeed))
	assert.ErrorIs(t, b.Do(succeed), ErrTooManyRequests)
}

func TestBreakerIsFailure(t *testing.T) {
	ignored := errors.New("miss")
	b, _ := newTestBreaker(t, Settings{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, ignored) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Do(func() error { return ignored }), ignored)
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerResetInterval(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 3, ResetInterval: time.Minute})

	_ = b.Do(fail)
	_ = b.Do(fail)
	clock.advance(2 * time.Minute)
	_ = b.Do(fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(t, Settings{FailureThreshold: 1})

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("kaboom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
