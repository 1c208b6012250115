package runner

import (
	"sync"
	"time"
)

// Timer counts down an exam duration and invokes a callback exactly once
// when it expires. Stop is safe to call at any time, including after
// expiry.
type Timer struct {
	mu        sync.Mutex
	remaining time.Duration
	interval  time.Duration
	fired     bool
	stopped   bool
	stopCh    chan struct{}
	onExpire  func()
}

// NewTimer creates a countdown for d with the given expiry callback. The
// callback runs on the timer's goroutine with no locks held.
func NewTimer(d time.Duration, onExpire func()) *Timer {
	return &Timer{
		remaining: d,
		interval:  time.Second,
		stopCh:    make(chan struct{}),
		onExpire:  onExpire,
	}
}

// Start begins the countdown. A timer with no remaining time expires on
// the first tick.
func (t *Timer) Start() {
	go t.run()
}

func (t *Timer) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			if t.tick() {
				return
			}
		}
	}
}

// tick advances the countdown one interval and reports whether the timer
// is done. The expiry callback is invoked with the lock released so it
// may call back into the owner.
func (t *Timer) tick() bool {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return true
	}
	t.remaining -= t.interval
	if t.remaining > 0 {
		t.mu.Unlock()
		return false
	}
	t.remaining = 0
	t.fired = true
	onExpire := t.onExpire
	t.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
	return true
}

// Remaining returns the time left, never negative.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining < 0 {
		return 0
	}
	return t.remaining
}

// Stop halts the countdown. The expiry callback will not run after Stop
// returns unless it was already in flight.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	close(t.stopCh)
}
