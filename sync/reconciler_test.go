package sync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testSession struct {
	active int32
	done   chan struct{}
	once   sync.Once
}

func newTestSession() *testSession {
	return &testSession{active: 1, done: make(chan struct{})}
}

func (s *testSession) Active() bool          { return atomic.LoadInt32(&s.active) == 1 }
func (s *testSession) Done() <-chan struct{} { return s.done }
func (s *testSession) end() {
	s.once.Do(func() {
		atomic.StoreInt32(&s.active, 0)
		close(s.done)
	})
}

func TestReconcilerTickSuppression(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	var last time.Time
	submitted := 0

	r := NewReconciler(ReconcilerOptions{
		LastRefresh: func() time.Time { return last },
		Submit:      func() { submitted++ },
		Now:         func() time.Time { return now },
	})

	last = now.Add(-5 * time.Second)
	if r.Tick() {
		t.Fatal("Tick 5s after a manual refresh must be a no-op")
	}
	if submitted != 0 {
		t.Fatalf("Expected no submission, got %d", submitted)
	}

	last = now.Add(-15 * time.Second)
	if !r.Tick() {
		t.Fatal("Tick 15s after a manual refresh must refresh")
	}
	if submitted != 1 {
		t.Fatalf("Expected 1 submission, got %d", submitted)
	}

	last = time.Time{}
	if !r.Tick() {
		t.Fatal("Tick with no prior refresh must refresh")
	}

	ticks, skipped := r.Counts()
	if ticks != 3 || skipped != 1 {
		t.Fatalf("Expected 3 ticks and 1 skip, got %d/%d", ticks, skipped)
	}
}

func TestReconcilerRunsWhileSessionActive(t *testing.T) {
	var submitted int32
	r := NewReconciler(ReconcilerOptions{
		Interval: 10 * time.Millisecond,
		Submit:   func() { atomic.AddInt32(&submitted, 1) },
	})

	session := newTestSession()
	r.Start(session)
	r.Start(session)
	defer r.Stop()

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&submitted) == 0 {
		t.Fatal("Expected periodic submissions while the session is active")
	}

	session.end()
	time.Sleep(20 * time.Millisecond)
	if r.Running() {
		t.Fatal("Reconciler should stop when the session ends")
	}

	after := atomic.LoadInt32(&submitted)
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&submitted) != after {
		t.Fatal("No ticks expected after the session ended")
	}
}

func TestReconcilerSkipsInactiveSession(t *testing.T) {
	var submitted int32
	r := NewReconciler(ReconcilerOptions{
		Interval: 5 * time.Millisecond,
		Submit:   func() { atomic.AddInt32(&submitted, 1) },
	})

	session := newTestSession()
	atomic.StoreInt32(&session.active, 0)
	r.Start(session)
	time.Sleep(40 * time.Millisecond)
	r.Stop()

	if atomic.LoadInt32(&submitted) != 0 {
		t.Fatal("Inactive session must not trigger refreshes")
	}
	if r.Running() {
		t.Fatal("Stop should clear the timer")
	}
}
