package session

import "context"

// Acquire claims the session's single command slot, blocking in FIFO order
// behind any in-flight command. On success the session is Busy and the
// caller must Release. Waiters are failed with ErrSessionNotFound if the
// session is removed, ErrSessionTerminal if it ends, or ctx.Err() if the
// caller gives up.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionTerminal
	}
	if !s.busy && s.state == StateIdle {
		s.busy = true
		s.state = StateBusy
		s.mu.Unlock()
		return nil
	}
	w := make(chan error, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		s.abandon(w)
		return ctx.Err()
	}
}

// Release returns the command slot and wakes the next queued waiter, if
// any, in FIFO order. Terminal states are left unchanged. Releasing a
// session that is not Busy reports ErrConcurrentAccess: that is an engine
// bug, not a runtime condition.
func (s *Session) Release() error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if !s.busy {
		s.mu.Unlock()
		return ErrConcurrentAccess
	}
	if len(s.waiters) > 0 {
		// Hand the slot straight to the next waiter.
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.state = StateBusy
		s.mu.Unlock()
		w <- nil
		return nil
	}
	s.busy = false
	s.state = StateIdle
	s.mu.Unlock()
	return nil
}

// abandon removes a waiter that cancelled. If the grant raced the
// cancellation, the slot is passed on.
func (s *Session) abandon(w chan error) {
	s.mu.Lock()
	for i, q := range s.waiters {
		if q == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	// Not queued anymore: either failed or granted. A grant must be
	// released so the next waiter runs.
	if err := <-w; err == nil {
		_ = s.Release()
	}
}

// markRemoved excludes the session from lookup; queued waiters fail with
// ErrSessionNotFound.
func (s *Session) markRemoved() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
	s.markTerminal(StateExited, ErrSessionNotFound)
}
