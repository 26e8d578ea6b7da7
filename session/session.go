// Package session provides the user-session signal that gates periodic
// reconciliation.
package session

import "sync"

// Provider reports whether a user session is active and when it ends.
type Provider interface {
	Active() bool
	Done() <-chan struct{}
}

// Switch is a Provider toggled by the application on sign-in and sign-out.
// Each Begin opens a new session with its own Done channel.
type Switch struct {
	mu     sync.Mutex
	active bool
	done   chan struct{}
}

// NewSwitch creates a switch with no active session.
func NewSwitch() *Switch {
	done := make(chan struct{})
	close(done)
	return &Switch{done: done}
}

// Begin starts a session. It is a no-op while one is active.
func (s *Switch) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.done = make(chan struct{})
}

// End finishes the current session.
func (s *Switch) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.done)
}

// Active implements Provider.
func (s *Switch) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Done implements Provider. It returns the channel of the current session;
// with no session active it is already closed.
func (s *Switch) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
