package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/metrics"
)

// State represents the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings configures a Breaker
type Settings struct {
	FailureThreshold uint32        // consecutive failures that open the breaker
	SuccessThreshold uint32        // half-open successes that close it again
	HalfOpenMax      uint32        // calls let through while half-open
	OpenTimeout      time.Duration // time spent open before probing
	ResetInterval    time.Duration // closed-state counter reset; 0 never resets

	// IsFailure decides which errors count against the breaker. Nil counts
	// every non-nil error.
	IsFailure func(error) bool
}

// DefaultSettings suits a cache that is consulted on every mutating request
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		HalfOpenMax:      3,
		OpenTimeout:      10 * time.Second,
		ResetInterval:    60 * time.Second,
	}
}

// Breaker stops calling a failing dependency for OpenTimeout after
// FailureThreshold consecutive failures.
type Breaker struct {
	name     string
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	requests   uint32
	failures   uint32 // consecutive
	successes  uint32 // consecutive
	expiry     time.Time
}

// New creates a closed breaker
func New(name string, settings Settings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 1
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}
	if settings.HalfOpenMax == 0 {
		settings.HalfOpenMax = 1
	}
	b := &Breaker{
		name:     name,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
	b.resetLocked(b.now())
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Do runs fn unless the breaker is open. The error from fn is returned as is.
func (b *Breaker) Do(fn func() error) error {
	generation, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(generation, false)
			panic(r)
		}
	}()

	err = fn()
	b.record(generation, !b.isFailure(err))
	return err
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentLocked(b.now())
	return state
}

func (b *Breaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if b.settings.IsFailure != nil {
		return b.settings.IsFailure(err)
	}
	return true
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.currentLocked(b.now())
	switch {
	case state == StateOpen:
		return generation, ErrOpen
	case state == StateHalfOpen && b.requests >= b.settings.HalfOpenMax:
		return generation, ErrTooManyRequests
	}
	b.requests++
	return generation, nil
}

func (b *Breaker) record(before uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.currentLocked(now)
	// results from a previous generation no longer count
	if generation != before {
		return
	}

	if ok {
		b.failures = 0
		b.successes++
		if state == StateHalfOpen && b.successes >= b.settings.SuccessThreshold {
			b.transitionLocked(StateClosed, now)
		}
		return
	}

	b.successes = 0
	b.failures++
	if state == StateHalfOpen || b.failures >= b.settings.FailureThreshold {
		b.transitionLocked(StateOpen, now)
	}
}

func (b *Breaker) currentLocked(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.resetLocked(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transitionLocked(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transitionLocked(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.resetLocked(now)

	metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (b *Breaker) resetLocked(now time.Time) {
	b.generation++
	b.requests, b.failures, b.successes = 0, 0, 0

	switch b.state {
	case StateClosed:
		if b.settings.ResetInterval > 0 {
			b.expiry = now.Add(b.settings.ResetInterval)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.settings.OpenTimeout)
	default:
		b.expiry = time.Time{}
	}
}
