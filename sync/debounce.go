package sync

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is the debounce window used when none is given.
const DefaultQuietPeriod = 300 * time.Millisecond

// Debouncer is a single timer slot. Each Schedule cancels the work that
// is scheduled but not yet started and re-arms the timer, so a burst of
// calls within the quiet period runs only the last work once.
type Debouncer struct {
	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	pending bool
	stopped bool
}

// NewDebouncer creates an idle debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{}
}

// Schedule arms work to run after quiet has elapsed without another call.
// A non-positive quiet uses DefaultQuietPeriod.
func (d *Debouncer) Schedule(work func(), quiet time.Duration) {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = true
	d.timer = time.AfterFunc(quiet, func() {
		d.mu.Lock()
		// A later Schedule or Stop raced with this timer firing.
		if seq != d.seq || d.stopped {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()

		work()
	})
}

// Pending reports whether work is armed and has not started.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop discards pending work and rejects further scheduling. Work that
// already started is not interrupted.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Reset re-enables a stopped debouncer.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = false
}
