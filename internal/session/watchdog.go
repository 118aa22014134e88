package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sebastianm/dbgbridge/internal/framer"
)

// Watchdog reclaims control of a session whose command missed its deadline.
// Escalation is two-stage: an interrupt first, so an interactive debugger
// can take back its prompt from a running debuggee, then a forced kill.
type Watchdog struct {
	log   *slog.Logger
	grace time.Duration
}

// NewWatchdog creates a watchdog with the given interrupt grace period.
func NewWatchdog(log *slog.Logger, grace time.Duration) *Watchdog {
	return &Watchdog{log: log, grace: grace}
}

// Reclaim runs after a frame deadline expired with the gate still held.
// It interrupts the child and gives the pending frame one grace period to
// complete; the returned frame holds whatever arrived. If the child stays
// unresponsive it is terminated and the session marked Crashed, reported as
// ErrProcessCrashed.
func (w *Watchdog) Reclaim(ctx context.Context, s *Session, marker string, echoes []string) (framer.Frame, error) {
	log := w.log.With("session_id", s.ID)

	if err := s.Proc.Interrupt(); err != nil {
		log.Error("interrupt failed, terminating session", "error", err)
		s.markTerminal(StateCrashed, ErrSessionTerminal)
		return framer.Frame{}, ErrProcessCrashed
	}
	log.Warn("command deadline expired, interrupt sent", "grace", w.grace)

	frame, err := s.Framer.ReadFrame(ctx, s.Proc, marker, echoes, w.grace)
	switch {
	case err == nil:
		// Interrupt reclaimed the prompt; the session stays usable.
		log.Info("session reclaimed after interrupt")
		return frame, ErrCommandTimeout
	case errors.Is(err, framer.ErrStreamClosed):
		s.markTerminal(StateCrashed, ErrSessionTerminal)
		return frame, ErrProcessCrashed
	case errors.Is(err, framer.ErrDeadline):
		log.Error("session unresponsive after interrupt, terminating")
		s.markTerminal(StateCrashed, ErrSessionTerminal)
		return frame, ErrProcessCrashed
	default:
		return frame, err
	}
}
