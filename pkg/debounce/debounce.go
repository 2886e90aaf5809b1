// Package debounce implements trailing-edge coalescing for a single-threaded event loop.
//
// A Debouncer never starts goroutines or timers of its own. The owning loop reads
// Deadline to arm its timer and calls Fire when it wakes, so the debounced function
// always runs on the loop that owns the state it touches.
package debounce

import "time"

// Debouncer runs only the last function triggered within a settling window
type Debouncer struct {
	wait     time.Duration
	fn       func()
	deadline time.Time
	pending  bool
}

// New creates a Debouncer with the given settling window
func New(wait time.Duration) *Debouncer {
	return &Debouncer{wait: wait}
}

// Wait returns the settling window
func (d *Debouncer) Wait() time.Duration {
	return d.wait
}

// Trigger schedules fn to run once the window has been quiet since now.
// A later Trigger replaces fn and pushes the deadline out.
func (d *Debouncer) Trigger(now time.Time, fn func()) {
	d.fn = fn
	d.deadline = now.Add(d.wait)
	d.pending = true
}

// Fire runs the pending function if its deadline has passed. It reports whether it ran.
func (d *Debouncer) Fire(now time.Time) bool {
	if !d.pending || now.Before(d.deadline) {
		return false
	}
	fn := d.fn
	d.Cancel()
	if fn != nil {
		fn()
	}
	return true
}

// Flush runs the pending function immediately, regardless of the deadline
func (d *Debouncer) Flush() bool {
	if !d.pending {
		return false
	}
	return d.Fire(d.deadline)
}

// Cancel drops the pending function without running it
func (d *Debouncer) Cancel() {
	d.fn = nil
	d.pending = false
	d.deadline = time.Time{}
}

// Pending reports whether a function is waiting to run
func (d *Debouncer) Pending() bool {
	return d.pending
}

// Deadline returns when the pending function becomes due
func (d *Debouncer) Deadline() (time.Time, bool) {
	return d.deadline, d.pending
}

// Earliest returns the soonest deadline among the given debouncers
func Earliest(ds ...*Debouncer) (time.Time, bool) {
	var best time.Time
	found := false
	for _, d := range ds {
		if d == nil {
			continue
		}
		if dl, ok := d.Deadline(); ok && (!found || dl.Before(best)) {
			best, found = dl, true
		}
	}
	return best, found
}
