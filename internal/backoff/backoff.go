// Package backoff tracks per-entry retry state in memory: retry count and
// last-touched time, keyed by log entry ID. Delay computation takes its
// initial/multiplier/max settings through github.com/cenkalti/backoff/v4's
// ExponentialBackOff fields and applies the multiply-and-cap steps itself,
// without randomization.
package backoff

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Settings configures the retry policy shared by every tracked entry.
type Settings struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxRetries   int

	// IdleGC is how long an entry may sit untouched before GC reclaims it.
	IdleGC time.Duration
}

type entryState struct {
	retryCount  int
	lastTouched time.Time
}

// Controller tracks retry_count/last_touched per entry ID and answers
// should_retry/delay for the worker's backoff decision.
type Controller struct {
	mu       sync.Mutex
	settings Settings
	entries  map[string]*entryState
}

// New builds a Controller. Zero-value Settings fields are defaulted:
// InitialDelay=1s, Multiplier=2, MaxDelay=5m, MaxRetries=5, IdleGC=1h.
func New(s Settings) *Controller {
	if s.InitialDelay <= 0 {
		s.InitialDelay = time.Second
	}
	if s.Multiplier <= 0 {
		s.Multiplier = 2
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = 5 * time.Minute
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 5
	}
	if s.IdleGC <= 0 {
		s.IdleGC = time.Hour
	}
	return &Controller{settings: s, entries: make(map[string]*entryState)}
}

// ShouldRetry reports whether entryID has not yet exhausted MaxRetries. An
// entry reaches the DLQ after exactly MaxRetries+1 failures: the first
// MaxRetries failures are each eligible for one more retry, and only the
// (MaxRetries+1)th failure exhausts it.
func (c *Controller) ShouldRetry(entryID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entries[entryID]
	if !ok {
		return true
	}
	return st.retryCount <= c.settings.MaxRetries
}

// Delay returns the backoff duration for entryID's current retry count.
func (c *Controller) Delay(entryID string) time.Duration {
	c.mu.Lock()
	retryCount := 0
	if st, ok := c.entries[entryID]; ok {
		retryCount = st.retryCount
	}
	c.mu.Unlock()
	return c.delayForCount(retryCount)
}

func (c *Controller) delayForCount(retryCount int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.settings.InitialDelay
	eb.Multiplier = c.settings.Multiplier
	eb.MaxInterval = c.settings.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	d := eb.InitialInterval
	for i := 0; i < retryCount; i++ {
		d = time.Duration(float64(d) * eb.Multiplier)
		if d > eb.MaxInterval {
			d = eb.MaxInterval
			break
		}
	}
	return d
}

// RecordFailure increments entryID's retry count.
func (c *Controller) RecordFailure(entryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entries[entryID]
	if !ok {
		st = &entryState{}
		c.entries[entryID] = st
	}
	st.retryCount++
	st.lastTouched = time.Now()
}

// RecordSuccess clears entryID's tracked state entirely.
func (c *Controller) RecordSuccess(entryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entryID)
}

// RetryCount reports how many failures have been recorded for entryID.
func (c *Controller) RetryCount(entryID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.entries[entryID]; ok {
		return st.retryCount
	}
	return 0
}

// GC drops entries untouched for longer than IdleGC, bounding memory
// growth from entries that were eventually acked or DLQ'd without a
// final RecordSuccess/explicit removal.
func (c *Controller) GC(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, st := range c.entries {
		if now.Sub(st.lastTouched) > c.settings.IdleGC {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
