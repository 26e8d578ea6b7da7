package sync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/reactive-sync/cache"
)

const (
	// DefaultReconcileInterval is the periodic tick cadence.
	DefaultReconcileInterval = 30 * time.Second

	// DefaultReconcileGuard suppresses a tick when a manual or
	// mutation-triggered refresh happened within it.
	DefaultReconcileGuard = 10 * time.Second
)

// Session gates the reconciler.
type Session interface {
	// Active reports whether a user session is currently active.
	Active() bool

	// Done is closed when the session ends.
	Done() <-chan struct{}
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Interval time.Duration
	Guard    time.Duration

	// LastRefresh returns the time of the last manual or mutation-triggered
	// refresh, or the zero time.
	LastRefresh func() time.Time

	// Submit requests a refresh of every scope.
	Submit func()

	// Now defaults to time.Now.
	Now func() time.Time

	Logger cache.Logger
}

// Reconciler is the periodic safety-net refresh.
type Reconciler struct {
	opts ReconcilerOptions

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool

	ticks   int64
	skipped int64
}

// NewReconciler creates a stopped reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReconcileInterval
	}
	if opts.Guard <= 0 {
		opts.Guard = DefaultReconcileGuard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	if opts.LastRefresh == nil {
		opts.LastRefresh = func() time.Time { return time.Time{} }
	}
	return &Reconciler{opts: opts}
}

// Start runs the ticker until Stop is called or the session ends.
// Starting a running reconciler is a no-op.
func (r *Reconciler) Start(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})

	r.wg.Add(1)
	go r.loop(session, r.stop)
}

// Stop clears the timer and waits for the loop to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
}

// Running reports whether the ticker is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Tick evaluates one periodic tick and reports whether a refresh was submitted.
func (r *Reconciler) Tick() bool {
	atomic.AddInt64(&r.ticks, 1)

	last := r.opts.LastRefresh()
	if !last.IsZero() && r.opts.Now().Sub(last) <= r.opts.Guard {
		atomic.AddInt64(&r.skipped, 1)
		r.opts.Logger.Debug("Reconciler: skipping tick after recent refresh", "since", r.opts.Now().Sub(last))
		return false
	}

	r.opts.Logger.Debug("Reconciler: submitting full refresh")
	r.opts.Submit()
	return true
}

// Counts returns the number of ticks evaluated and skipped.
func (r *Reconciler) Counts() (ticks, skipped int64) {
	return atomic.LoadInt64(&r.ticks), atomic.LoadInt64(&r.skipped)
}

func (r *Reconciler) loop(session Session, stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	var done <-chan struct{}
	if session != nil {
		done = session.Done()
	}

	for {
		select {
		case <-stop:
			return
		case <-done:
			r.opts.Logger.Info("Reconciler: session ended, stopping")
			r.mu.Lock()
			if r.stop == stop {
				r.running = false
			}
			r.mu.Unlock()
			return
		case <-ticker.C:
			if session != nil && !session.Active() {
				continue
			}
			r.Tick()
		}
	}
}
