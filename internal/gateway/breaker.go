package gateway

import (
	"log"
	"sync"
	"time"

	"github.com/temmyjay001/payments-core/internal/metrics"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreaker guards one remote dependency.
type CircuitBreaker interface {
	Allow() error
	RecordSuccess()
	RecordFailure()
	Release()
	Snapshot() BreakerSnapshot
}

type BreakerSnapshot struct {
	Dependency          string        `json:"dependency"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	FailureThreshold    int           `json:"failure_threshold"`
	OpenDuration        time.Duration `json:"open_duration"`
	LastFailureAt       *time.Time    `json:"last_failure_at,omitempty"`
}

// Breaker is a mutex guarded consecutive-failure breaker. While HALF_OPEN it
// lets a single trial call through; the trial outcome closes or re-opens it.
type Breaker struct {
	mu sync.Mutex

	dependency    string
	threshold     int
	openDuration  time.Duration
	state         State
	failures      int
	lastFailureAt time.Time
	trialInFlight bool

	now func() time.Time
}

func NewBreaker(dependency string, threshold int, openDuration time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{
		dependency:   dependency,
		threshold:    threshold,
		openDuration: openDuration,
		state:        StateClosed,
		now:          time.Now,
	}
	metrics.BreakerState.WithLabelValues(dependency).Set(float64(StateClosed))
	return b
}

// Allow returns ErrCircuitOpen when the call must not reach the network.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.openDuration {
			return b.openError()
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return b.openError()
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the breaker from CLOSED or HALF_OPEN. A success that
// lands while OPEN came from a call admitted before the breaker tripped and is
// ignored; only the half-open trial may close an open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		return
	}

	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.trialInFlight = false

	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.threshold) {
		b.lastFailureAt = b.now()
		b.transition(StateOpen)
	}
}

// Release frees a HALF_OPEN trial slot without recording an outcome.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		Dependency:          b.dependency,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.threshold,
		OpenDuration:        b.openDuration,
	}
	if !b.lastFailureAt.IsZero() {
		at := b.lastFailureAt
		snap.LastFailureAt = &at
	}
	return snap
}

func (b *Breaker) openError() error {
	return ErrCircuitOpen
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	metrics.BreakerState.WithLabelValues(b.dependency).Set(float64(to))
	log.Printf("Circuit breaker %s: %s -> %s (consecutive failures: %d)", b.dependency, from, to, b.failures)
}
