package dbpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/athena-core/memory/internal/logging"
)

// ErrCircuitOpen is returned when the breaker rejects a call because the
// circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState mirrors the closed/open/half-open state machine from
// itsneelabh-gomind/resilience/circuit_breaker.go.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig tunes the breaker. Matches spec.md §5: trips when
// error rate > 50% in a 5-minute window.
type CircuitBreakerConfig struct {
	Window           time.Duration
	ErrorRateThreshold float64
	MinRequests      int
	OpenDuration     time.Duration
	MaxOpenDuration  time.Duration
}

// DefaultCircuitBreakerConfig matches spec.md §5's stated defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Window:             5 * time.Minute,
		ErrorRateThreshold: 0.5,
		MinRequests:        10,
		OpenDuration:       5 * time.Second,
		MaxOpenDuration:    5 * time.Minute,
	}
}

// bucket counts successes/failures within one window slot.
type bucket struct {
	windowStart time.Time
	successes   int
	failures    int
}

// CircuitBreaker guards pool acquisition, tripping open on a sustained
// error rate and probing with a single half-open request before closing
// again, adapted from gomind's sliding-window breaker.
type CircuitBreaker struct {
	mu           sync.Mutex
	cfg          CircuitBreakerConfig
	state        CircuitState
	current      bucket
	openedAt     time.Time
	openDuration time.Duration // grows on repeated half-open failure, capped at MaxOpenDuration
	halfOpenInFlight bool
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:          cfg,
		state:        StateClosed,
		current:      bucket{windowStart: time.Now()},
		openDuration: cfg.OpenDuration,
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateClosed:
		b.rotateWindow(now)
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.openDuration {
			b.state = StateHalfOpen
			b.halfOpenInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false // single probe in flight
		}
		b.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false
		if success {
			b.state = StateClosed
			b.openDuration = b.cfg.OpenDuration
			b.current = bucket{windowStart: time.Now()}
			logging.Get(logging.CategoryDB).Info("circuit breaker closed after successful probe")
		} else {
			b.trip()
		}
	case StateClosed:
		if success {
			b.current.successes++
		} else {
			b.current.failures++
		}
		total := b.current.successes + b.current.failures
		if total >= b.cfg.MinRequests {
			errRate := float64(b.current.failures) / float64(total)
			if errRate > b.cfg.ErrorRateThreshold {
				b.trip()
			}
		}
	}
}

func (b *CircuitBreaker) trip() {
	// Exponential backoff on repeated half-open failure, capped, matching
	// gomind's sleep-window growth.
	if b.state == StateHalfOpen {
		b.openDuration *= 2
		if b.openDuration > b.cfg.MaxOpenDuration {
			b.openDuration = b.cfg.MaxOpenDuration
		}
	}
	b.state = StateOpen
	b.openedAt = time.Now()
	logging.Get(logging.CategoryDB).Warn("circuit breaker opened, next probe in %v", b.openDuration)
}

func (b *CircuitBreaker) rotateWindow(now time.Time) {
	if now.Sub(b.current.windowStart) > b.cfg.Window {
		b.current = bucket{windowStart: now}
	}
}
