// Package shutdown implements the priority-ordered teardown coordinator:
// callbacks register with a priority (lower runs first), the coordinator
// moves Running→ShuttingDown→Stopped on programmatic Initiate (the binaries
// call it once the ListenForSignals context is done), and WaitForShutdown
// exposes a channel closed when Running ends.
// Built fresh: grounded on apps/cdc-worker/cmd/worker/main.go's
// signal.NotifyContext + context-cancellation polling idiom, generalized
// to a registered-callback list since that single-process pattern has no
// multi-callback teardown to draw from.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// State is the coordinator's lifecycle stage.
type State int

const (
	Running State = iota
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Callback is a named, prioritized teardown step. Lower Priority values
// run first (IMAP/fetch stopped before the log client is closed).
type Callback struct {
	Name     string
	Priority int
	Run      func(ctx context.Context) error
}

// Coordinator is the process-wide shutdown singleton, created once in
// main; long-running components are stopped by the callbacks registered
// with it and by cancellation of their contexts.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	callbacks []Callback
	deadline  time.Duration
	log       *zap.Logger

	doneCh chan struct{} // closed when state leaves Running
}

// New builds a Coordinator with the given total shutdown deadline; a
// deadline of zero or less defaults to 30s.
func New(deadline time.Duration, log *zap.Logger) *Coordinator {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Coordinator{
		state:    Running,
		deadline: deadline,
		log:      log,
		doneCh:   make(chan struct{}),
	}
}

// Register adds a teardown callback. Safe to call at any point before
// Initiate begins running callbacks; registering after ShuttingDown has
// started has no effect (the callback list is already fixed and sorted).
func (c *Coordinator) Register(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return
	}
	c.callbacks = append(c.callbacks, cb)
}

// State returns the current lifecycle stage.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitForShutdown returns a channel that is closed the moment the
// coordinator leaves Running, letting interruptible loops select on it.
func (c *Coordinator) WaitForShutdown() <-chan struct{} {
	return c.doneCh
}

// Initiate transitions Running→ShuttingDown, runs every registered
// callback sequentially in priority order within the bounded total
// deadline, then transitions to Stopped. Safe to call more than once;
// only the first call has effect.
func (c *Coordinator) Initiate(ctx context.Context) {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	c.state = ShuttingDown
	callbacks := append([]Callback(nil), c.callbacks...)
	close(c.doneCh)
	c.mu.Unlock()

	sort.SliceStable(callbacks, func(i, j int) bool { return callbacks[i].Priority < callbacks[j].Priority })

	deadlineCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	for _, cb := range callbacks {
		if deadlineCtx.Err() != nil {
			c.log.Warn("shutdown deadline exceeded, abandoning remaining callbacks", zap.String("callback", cb.Name))
			break
		}
		if err := cb.Run(deadlineCtx); err != nil {
			c.log.Warn("shutdown callback failed", zap.String("callback", cb.Name), zap.Error(err))
		}
	}

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
}

// ListenForSignals spawns nothing itself — it returns a context cancelled
// on SIGINT/SIGTERM, and a stop function the caller should defer. Callers
// run Initiate when that context is done.
func ListenForSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
