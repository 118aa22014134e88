// Package session owns the set of live debugger sessions: identity, state,
// the per-session single-flight gate, watchdog escalation and registry
// lifecycle.
package session

import (
	"sync"
	"time"

	"github.com/sebastianm/dbgbridge/internal/backend"
	"github.com/sebastianm/dbgbridge/internal/framer"
	"github.com/sebastianm/dbgbridge/internal/process"
)

// State is the lifecycle state of a session.
type State string

const (
	StateStarting State = "starting"
	StateIdle     State = "idle"
	StateBusy     State = "busy"
	StateExited   State = "exited"
	StateCrashed  State = "crashed"
)

// Terminal reports whether the state is irreversible.
func (s State) Terminal() bool {
	return s == StateExited || s == StateCrashed
}

// Process is the borrowed view of the child process a session owns.
// *process.Controller satisfies it; tests substitute fakes.
type Process interface {
	framer.Stream
	ExitStatus() (process.ExitStatus, bool)
	Alive() bool
	Echoes() bool
	Write(p []byte) error
	Interrupt() error
	Terminate()
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID           string          `json:"id"`
	Backend      backend.Backend `json:"backend"`
	State        State           `json:"state"`
	LoadedTarget string          `json:"loaded_target,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
}

// Session pairs one debugger process with bridge-managed state. The process
// handle and output buffer are owned here exclusively; other components get
// borrowed access scoped to a call, under the gate.
type Session struct {
	ID      string
	Backend backend.Backend
	Adapter backend.Adapter
	Proc    Process
	Framer  *framer.Framer

	mu           sync.Mutex
	state        State
	target       string
	createdAt    time.Time
	lastActivity time.Time
	removed      bool

	busy    bool
	waiters []chan error // FIFO

	// onTerminal is set by the registry; invoked once, after the first
	// terminal transition, for bookkeeping and subscriber notification.
	onTerminal func(*Session)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info snapshots the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		Backend:      s.Backend,
		State:        s.state,
		LoadedTarget: s.target,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

// SetTarget records the loaded program path.
func (s *Session) SetTarget(target string) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Touch updates the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// markTerminal flips the session into a terminal state, releases the process
// handle and fails every queued waiter with werr. Idempotent; the first
// terminal state wins. Returns true on the first transition.
func (s *Session) markTerminal(st State, werr error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = st
	s.busy = false
	s.target = ""
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w <- werr // buffered, never blocks
	}
	s.Proc.Terminate()
	s.Framer.Reset()
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
	return true
}
