package scheduler

import (
	"sync"
	"time"
)

// Real wraps time.AfterFunc and time.Ticker to implement Scheduler against
// the wall clock.
type Real struct{}

// NewReal returns a wall-clock Scheduler.
func NewReal() Real { return Real{} }

// SetTimeout implements Scheduler.
func (Real) SetTimeout(delayMS int64, cb func()) Cancel {
	t := time.AfterFunc(time.Duration(delayMS)*time.Millisecond, cb)
	return func() { t.Stop() }
}

// SetInterval implements Scheduler.
func (Real) SetInterval(periodMS int64, cb func()) Cancel {
	period := time.Duration(periodMS) * time.Millisecond
	ticker := time.NewTicker(period)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				cb()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
