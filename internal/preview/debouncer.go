package preview

import (
	"sync"
	"time"
)

// Debouncer forwards only the last snapshot of a burst, once no new snapshot
// has arrived for the quiet interval. It is trailing-edge only: a push is
// never forwarded immediately.
type Debouncer struct {
	delay   time.Duration
	fire    func(EditorSnapshot)
	timer   *time.Timer
	pending *EditorSnapshot
	// generation invalidates timers that were stopped too late to prevent
	// their callback from running.
	generation uint64
	mutex      sync.Mutex
}

// NewDebouncer creates a debouncer that calls fire from the timer goroutine.
func NewDebouncer(delay time.Duration, fire func(EditorSnapshot)) *Debouncer {
	return &Debouncer{
		delay: delay,
		fire:  fire,
	}
}

// Push replaces the pending snapshot and restarts the quiet interval.
func (d *Debouncer) Push(snapshot EditorSnapshot) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = &snapshot
	d.generation++

	// Reset timer
	if d.timer != nil {
		d.timer.Stop()
	}

	gen := d.generation
	d.timer = time.AfterFunc(d.delay, func() {
		d.expire(gen)
	})
}

func (d *Debouncer) expire(gen uint64) {
	d.mutex.Lock()
	if gen != d.generation || d.pending == nil {
		d.mutex.Unlock()
		return
	}
	snapshot := *d.pending
	d.pending = nil
	d.timer = nil
	d.mutex.Unlock()

	d.fire(snapshot)
}

// Flush cancels the quiet interval and hands back the pending snapshot
// without calling fire.
func (d *Debouncer) Flush() (EditorSnapshot, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.cancelLocked()
	if d.pending == nil {
		return EditorSnapshot{}, false
	}
	snapshot := *d.pending
	d.pending = nil
	return snapshot, true
}

// Stop drops the pending snapshot.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.cancelLocked()
	d.pending = nil
}

// Pending reports whether a snapshot is waiting for the quiet interval.
func (d *Debouncer) Pending() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.pending != nil
}

func (d *Debouncer) cancelLocked() {
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
