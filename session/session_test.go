package session

import "testing"

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestSwitchLifecycle(t *testing.T) {
	s := NewSwitch()
	if s.Active() {
		t.Fatal("New switch should have no session")
	}
	if !closed(s.Done()) {
		t.Fatal("Done should be closed without a session")
	}

	s.Begin()
	done := s.Done()
	if !s.Active() || closed(done) {
		t.Fatal("Begin should open a session")
	}

	s.Begin()
	if s.Done() != done {
		t.Fatal("Begin during a session must not replace it")
	}

	s.End()
	if s.Active() || !closed(done) {
		t.Fatal("End should close the session's Done channel")
	}
	s.End()

	s.Begin()
	if closed(s.Done()) {
		t.Fatal("A new session gets a fresh Done channel")
	}
}
