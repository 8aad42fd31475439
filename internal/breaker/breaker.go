// Package breaker implements the circuit-breaker pattern for downstream
// targets (providers and agents). Each target has its own Breaker instance;
// a Set lazily creates breakers with shared settings.
//
// State transitions:
//
//	Closed   → Open      when consecutive failures ≥ OpenThreshold
//	Open     → HalfOpen  after Cooldown elapses; one probe call admitted
//	HalfOpen → Closed    when the probe succeeds
//	HalfOpen → Open      when the probe fails
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the breaker's current state.
type State int

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen means the target is considered failing; calls are rejected immediately.
	StateOpen
	// StateHalfOpen means the breaker is testing recovery with a single probe call.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected because the circuit is open.
// It is not retried within the same call, but callers treat it as transient
// for upstream routing decisions.
var ErrOpen = errors.New("circuit breaker open")

// Settings configures a Breaker.
type Settings struct {
	// OpenThreshold is the number of consecutive failures that opens the
	// circuit. Defaults to 5.
	OpenThreshold int
	// Cooldown is how long the circuit stays open before admitting a probe.
	// Defaults to 30s.
	Cooldown time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.OpenThreshold <= 0 {
		s.OpenThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return s
}

// Breaker guards a single downstream target.
type Breaker struct {
	mu                  sync.Mutex
	settings            Settings
	state               State
	consecutiveFailures int
	openedAt            time.Time
	lastProbeAt         time.Time
	probing             bool
}

// New creates a Breaker with the given settings, applying defaults for
// zero values.
func New(settings Settings) *Breaker {
	return &Breaker{settings: settings.withDefaults(), state: StateClosed}
}

// resolveState must be called with b.mu held.
func (b *Breaker) resolveState(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.Cooldown {
		b.state = StateHalfOpen
		b.probing = false
	}
	return b.state
}

// State returns the current state, transitioning Open→HalfOpen if the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveState(time.Now())
}

// Allow reports whether a call may proceed. In the half-open state exactly
// one probe is admitted at a time; concurrent callers are rejected until the
// probe reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	switch b.resolveState(now) {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		b.lastProbeAt = now
		return true
	default:
		return false
	}
}

// RecordSuccess notifies the breaker that a call succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.consecutiveFailures = 0
		b.probing = false
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure notifies the breaker that a call failed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.settings.OpenThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	}
}

// Snapshot is a read-only view of a breaker's state, exposed to components
// that observe but never mutate breaker state.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	LastProbeAt         time.Time `json:"last_probe_at,omitzero"`
}

// Snapshot returns the current observable state of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveState(time.Now())
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		LastProbeAt:         b.lastProbeAt,
	}
}

// Set maintains one Breaker per named target, created on first use.
type Set struct {
	mu       sync.Mutex
	settings Settings
	breakers map[string]*Breaker
}

// NewSet creates a Set whose breakers share the given settings.
func NewSet(settings Settings) *Set {
	return &Set{
		settings: settings.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for target, creating it if necessary.
func (s *Set) For(target string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[target]
	if !ok {
		b = New(s.settings)
		s.breakers[target] = b
	}
	return b
}

// Snapshots returns the observable state of every known breaker.
func (s *Set) Snapshots() map[string]Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Snapshot, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
