// Package limiter spaces out and serialises repeated invocations.
package limiter

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle admits an invocation only when none is running and the previous
// admitted one started at least interval ago. Rejected callers are skipped,
// in-flight ones are never cancelled.
type Throttle struct {
	lim     *rate.Limiter
	running atomic.Bool
	now     func() time.Time
}

// NewThrottle creates a Throttle; interval <= 0 only forbids overlap.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		lim: rate.NewLimiter(rate.Every(interval), 1),
		now: time.Now,
	}
}

// Acquire returns ok=false when the invocation must be skipped. Otherwise
// release must be called once the invocation finishes; extra calls are no-ops.
func (t *Throttle) Acquire() (release func(), ok bool) {
	if !t.running.CompareAndSwap(false, true) {
		return nil, false
	}
	if !t.lim.AllowN(t.now(), 1) {
		t.running.Store(false)
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { t.running.Store(false) }) }, true
}
