package pmtimer

import (
	"sync"
	"time"
)

// Timer is the one-shot deadline facility the counter virtualization runs
// on: arm a duration, query the time left to the deadline, stop. The expiry
// callback fires on the facility's own goroutine.
type Timer interface {
	Arm(d time.Duration)
	Remaining() time.Duration
	Stop()
}

// TimerFactory builds a Timer delivering expirations to expire. Returning
// an error leaves the device unregistered.
type TimerFactory func(expire func()) (Timer, error)

type monotonicTimer struct {
	mu       sync.Mutex
	now      func() time.Time
	deadline time.Time
	timer    *time.Timer
	expire   func()
}

func newMonotonicTimer(now func() time.Time, expire func()) *monotonicTimer {
	return &monotonicTimer{
		now:    now,
		expire: expire,
	}
}

func (t *monotonicTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deadline = t.now().Add(d)
	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.fire)
	} else {
		t.timer.Reset(d)
	}
}

func (t *monotonicTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := t.deadline.Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *monotonicTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *monotonicTimer) fire() {
	if t.expire != nil {
		t.expire()
	}
}
