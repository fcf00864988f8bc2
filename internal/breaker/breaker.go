// Package breaker guards calls into the log store and IMAP session behind
// a three-state circuit per named dependency, wrapping
// github.com/sony/gobreaker and adding the process-wide named registry
// gobreaker itself does not provide. Registered instances are exposed to
// the health endpoint and the metrics collector, created once in main and
// passed in explicitly rather than kept as package globals.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
)

// State mirrors gobreaker.State with three values: Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

// String renders the state the way /status and the gauge label expect.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// GaugeValue is the 0/1/2 encoding the metrics collector exposes.
func (s State) GaugeValue() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return Closed
	case gobreaker.StateHalfOpen:
		return HalfOpen
	case gobreaker.StateOpen:
		return Open
	default:
		return Closed
	}
}

// Settings configures one named breaker.
type Settings struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	SuccessThreshold uint32
}

// Breaker guards calls to a single named dependency.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// Execute runs fn guarded by the breaker: while Open it fails immediately
// with ingesterr.CircuitOpen without invoking fn; a successful/failed fn
// result otherwise feeds the state machine.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState {
		return ingesterr.New(ingesterr.CircuitOpen, "circuit "+b.name+" is open")
	}
	return err
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	return fromGobreakerState(b.cb.State())
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Registry holds every named breaker a process creates, guarded by a
// mutex so lookups and inserts from concurrent callers never race.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register creates (or returns the existing) named breaker with the given
// settings. Calling Register twice with the same name returns the first
// instance; settings on the second call are ignored.
func (r *Registry) Register(name string, s Settings) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.breakers[name]; ok {
		return existing
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.SuccessThreshold,
		Interval:    0,
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
	})

	b := &Breaker{name: name, cb: cb}
	r.breakers[name] = b
	return b
}

// Get returns the named breaker, or nil if it was never registered.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[name]
}

// Snapshot returns the current state of every registered breaker, keyed
// by name, for /status and the metrics depth poller.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
