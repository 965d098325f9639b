// Package endpoint decides when an utterance has ended.
//
// The only policy is a debounce: every chunk re-arms a single-shot timer and
// the utterance ends when the timer fires. Silence is inferred from the
// absence of chunks, so a client whose network stalls looks the same as a
// client that stopped talking.
package endpoint

import (
	"sync"
	"time"
)

// DefaultQuietInterval is the idle gap that ends an utterance.
const DefaultQuietInterval = 500 * time.Millisecond

// Timer is a cancellable single-shot debounce timer.
type Timer struct {
	mu    sync.Mutex
	t     *time.Timer
	gen   uint64
	armed bool
}

// Arm cancels any pending callback and schedules fn to run once after d,
// unless Arm or Stop is called again first.
func (t *Timer) Arm(d time.Duration, fn func()) {
	if d <= 0 {
		d = DefaultQuietInterval
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.armed = true
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		// A re-arm that raced with this fire already bumped gen.
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.armed = false
		t.t = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop cancels the pending callback. It is safe to call at any time.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
	t.armed = false
}

// Armed reports whether a callback is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
