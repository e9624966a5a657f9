package scheduler

import "sync"

// Fake is a deterministic, manually-advanced Scheduler used by component
// tests so timeout boundary behavior (the 10s/30s/100ms windows in the
// design notes) can be exercised without real sleeps.
type Fake struct {
	mu     sync.Mutex
	now    int64
	timers []*fakeTimer
}

type fakeTimer struct {
	at        int64
	period    int64 // 0 for a one-shot timeout
	cb        func()
	cancelled bool
}

// NewFake returns a Fake scheduler with its clock at zero.
func NewFake() *Fake {
	return &Fake{}
}

// SetTimeout implements Scheduler.
func (f *Fake) SetTimeout(delayMS int64, cb func()) Cancel {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: f.now + delayMS, cb: cb}
	f.timers = append(f.timers, t)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		t.cancelled = true
	}
}

// SetInterval implements Scheduler.
func (f *Fake) SetInterval(periodMS int64, cb func()) Cancel {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: f.now + periodMS, period: periodMS, cb: cb}
	f.timers = append(f.timers, t)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		t.cancelled = true
	}
}

// Advance moves the fake clock forward by ms milliseconds, firing (in
// chronological order) every timer whose deadline falls at or before the
// new time. Periodic timers are rescheduled for their next occurrence and
// may fire more than once if the advance spans multiple periods.
func (f *Fake) Advance(ms int64) {
	f.mu.Lock()
	target := f.now + ms
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var next *fakeTimer
		for _, t := range f.timers {
			if t.cancelled || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.at
		cb := next.cb
		if next.period > 0 {
			next.at += next.period
		} else {
			next.cancelled = true
		}
		f.mu.Unlock()

		cb()
	}
}

// Now returns the current fake time in milliseconds.
func (f *Fake) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}
