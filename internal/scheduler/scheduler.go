// Package scheduler provides the one-shot and periodic deferred callback
// facility the core consumes for state timeouts, the HELLO broadcast
// interval, and governor hold-offs. The core's single-threaded cooperative
// model (see the design notes) means every callback this interface fires
// is expected to run on the same execution context as bus deliveries and
// host operations; Scheduler itself does not enforce that, callers do.
package scheduler

// Cancel stops a scheduled callback. It is idempotent and safe to call
// after the callback has already fired.
type Cancel func()

// Scheduler arranges for callbacks to run after a delay, once or
// repeatedly.
type Scheduler interface {
	// SetTimeout arranges for cb to run once after delayMS milliseconds.
	SetTimeout(delayMS int64, cb func()) Cancel

	// SetInterval arranges for cb to run every periodMS milliseconds,
	// starting after the first period elapses.
	SetInterval(periodMS int64, cb func()) Cancel
}
