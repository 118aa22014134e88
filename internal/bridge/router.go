// Package bridge is the top-level entry point of the engine: it resolves
// sessions, serializes commands through the per-session gate, drives the
// adapter/process/framer pipeline and escalates through the watchdog.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebastianm/dbgbridge/internal/backend"
	"github.com/sebastianm/dbgbridge/internal/framer"
	"github.com/sebastianm/dbgbridge/internal/session"
)

// CommandResult is one accepted command's response. It is handed to the
// caller and not retained.
type CommandResult struct {
	RawText   []byte `json:"raw_text"`
	Truncated bool   `json:"truncated"`
	Signal    *int   `json:"signal,omitempty"`
}

// SessionInfo extends the session snapshot with the startup banner, which
// callers of CreateSession usually want to see.
type SessionInfo struct {
	session.Info
	Banner string `json:"banner,omitempty"`
}

// Router mediates between logical actions and the debugger sessions.
type Router struct {
	log            *slog.Logger
	reg            *session.Registry
	watchdog       *session.Watchdog
	defaultTimeout time.Duration
}

// NewRouter wires a router over a registry.
func NewRouter(log *slog.Logger, reg *session.Registry, watchdog *session.Watchdog, defaultTimeout time.Duration) *Router {
	return &Router{
		log:            log,
		reg:            reg,
		watchdog:       watchdog,
		defaultTimeout: defaultTimeout,
	}
}

// CreateSession spawns a new debugger session.
func (r *Router) CreateSession(ctx context.Context, b backend.Backend, opts session.CreateOpts) (SessionInfo, error) {
	sess, banner, err := r.reg.Create(ctx, b, opts)
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{Info: sess.Info(), Banner: string(banner.Data)}, nil
}

// LoadProgram loads a target (and optional debuggee arguments) into a
// running session.
func (r *Router) LoadProgram(ctx context.Context, id, path string, args []string) (CommandResult, error) {
	sess, err := r.reg.Get(id)
	if err != nil {
		return CommandResult{}, err
	}
	if !sess.Adapter.Capabilities().Has(backend.CapLoadAfterStart) {
		return CommandResult{}, fmt.Errorf("%s loads its target at session start: %w", sess.Backend, session.ErrNotSupported)
	}
	cmds, err := sess.Adapter.BuildLoad(path, args)
	if err != nil {
		return CommandResult{}, fmt.Errorf("build load command: %w", err)
	}

	result, err := r.run(ctx, sess, cmds, 0)
	if err == nil {
		sess.SetTarget(path)
	}
	return result, err
}

// ExecuteCommand submits raw command text to a session.
func (r *Router) ExecuteCommand(ctx context.Context, id, raw string) (CommandResult, error) {
	sess, err := r.reg.Get(id)
	if err != nil {
		return CommandResult{}, err
	}
	return r.run(ctx, sess, []string{sess.Adapter.BuildRaw(raw)}, 0)
}

// ExecuteCommandTimeout is ExecuteCommand with a per-command deadline.
func (r *Router) ExecuteCommandTimeout(ctx context.Context, id, raw string, timeout time.Duration) (CommandResult, error) {
	sess, err := r.reg.Get(id)
	if err != nil {
		return CommandResult{}, err
	}
	return r.run(ctx, sess, []string{sess.Adapter.BuildRaw(raw)}, timeout)
}

// ContinueExecution resumes the debuggee.
func (r *Router) ContinueExecution(ctx context.Context, id string) (CommandResult, error) {
	sess, err := r.reg.Get(id)
	if err != nil {
		return CommandResult{}, err
	}
	return r.run(ctx, sess, []string{sess.Adapter.BuildContinue()}, 0)
}

// WaitForStop blocks until the session's output signals a stopped debuggee,
// the timeout passes, or the process exits. An empty pattern falls back to
// the backend's own stop phrasings. Nothing is written to the debugger; the
// gate is still held so a concurrent command cannot interleave.
func (r *Router) WaitForStop(ctx context.Context, id, pattern string, timeout time.Duration) (CommandResult, error) {
	sess, err := r.reg.Get(id)
	if err != nil {
		return CommandResult{}, err
	}
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	patterns := []string{pattern}
	if pattern == "" {
		patterns = sess.Adapter.StopPatterns()
	}

	if err := sess.Acquire(ctx); err != nil {
		return CommandResult{}, err
	}
	defer r.release(sess)
	sess.Touch(r.reg.Clock().Now())

	frame, err := sess.Framer.ReadUntil(ctx, sess.Proc, patterns, timeout)
	switch {
	case err == nil:
		return r.result(sess, frame), nil
	case errors.Is(err, framer.ErrDeadline):
		return r.result(sess, frame), session.ErrCommandTimeout
	case errors.Is(err, framer.ErrStreamClosed):
		return r.crashed(sess, frame)
	default:
		return r.result(sess, frame), err
	}
}

// TerminateSession removes a session.
func (r *Router) TerminateSession(ctx context.Context, id string) error {
	return r.reg.Remove(ctx, id)
}

// ListSessions snapshots all sessions.
func (r *Router) ListSessions() []session.Info {
	return r.reg.List()
}

// run executes a command sequence under the session gate: drain stale
// output, write each command with its sentinel, read the frame, escalate on
// deadline. Multi-command sequences (load + set args) produce one
// concatenated result, matching how a human would read the transcript.
func (r *Router) run(ctx context.Context, sess *session.Session, cmds []string, timeout time.Duration) (CommandResult, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	if err := sess.Acquire(ctx); err != nil {
		return CommandResult{}, err
	}
	defer r.release(sess)

	start := r.reg.Clock().Now()
	sess.Touch(start)

	var out []byte
	truncated := false
	for _, cmd := range cmds {
		frame, err := r.submit(ctx, sess, cmd, timeout)
		out = append(out, frame.Data...)
		truncated = truncated || frame.Truncated
		if err != nil {
			r.record(ctx, sess, cmds, start, truncated, err)
			res := r.result(sess, framer.Frame{Data: out, Truncated: truncated})
			return res, err
		}
	}

	r.record(ctx, sess, cmds, start, truncated, nil)
	return r.result(sess, framer.Frame{Data: out, Truncated: truncated}), nil
}

// submit writes one command followed by a fresh sentinel and reads back the
// delimited frame.
func (r *Router) submit(ctx context.Context, sess *session.Session, cmd string, timeout time.Duration) (framer.Frame, error) {
	if !sess.Proc.Alive() {
		frame := framer.Frame{Data: sess.Framer.Drain(sess.Proc)}
		r.reg.MarkCrashed(sess)
		return frame, session.ErrProcessCrashed
	}

	stale := sess.Framer.Drain(sess.Proc)
	if len(stale) > 0 {
		r.log.Debug("stale output before command", "session_id", sess.ID, "bytes", len(stale))
	}

	marker := session.NewMarker(r.reg.Settings().SentinelPrefix)
	sentinel := sess.Adapter.BuildSentinel(marker)
	payload := cmd + "\n" + sentinel + "\n"
	if err := sess.Proc.Write([]byte(payload)); err != nil {
		r.reg.MarkCrashed(sess)
		return framer.Frame{Data: stale}, fmt.Errorf("%w: %v", session.ErrProcessCrashed, err)
	}

	// Only a pty echoes input back; stripping over pipes would eat genuine
	// output that happens to contain the command text.
	var echoes []string
	if sess.Proc.Echoes() {
		echoes = []string{cmd, sentinel}
	}
	frame, err := sess.Framer.ReadFrame(ctx, sess.Proc, marker, echoes, timeout)
	switch {
	case err == nil:
	case errors.Is(err, framer.ErrDeadline):
		late, werr := r.watchdog.Reclaim(ctx, sess, marker, echoes)
		frame.Data = append(frame.Data, late.Data...)
		frame.Truncated = frame.Truncated || late.Truncated
		err = werr
	case errors.Is(err, framer.ErrStreamClosed):
		r.reg.MarkCrashed(sess)
		err = session.ErrProcessCrashed
	}

	frame.Data = append(stale, frame.Data...)
	return frame, err
}

// release surfaces gate invariant violations instead of swallowing them.
func (r *Router) release(sess *session.Session) {
	if err := sess.Release(); err != nil {
		r.log.Error("gate release failed", "session_id", sess.ID, "error", err)
	}
}

// result attaches the exit signal, if the process ended, to a frame.
func (r *Router) result(sess *session.Session, frame framer.Frame) CommandResult {
	res := CommandResult{RawText: frame.Data, Truncated: frame.Truncated}
	if status, ok := sess.Proc.ExitStatus(); ok && status.Signal >= 0 {
		sig := status.Signal
		res.Signal = &sig
	}
	return res
}

func (r *Router) crashed(sess *session.Session, frame framer.Frame) (CommandResult, error) {
	r.reg.MarkCrashed(sess)
	return r.result(sess, frame), session.ErrProcessCrashed
}

// record writes the audit row for a finished command sequence. Best-effort:
// failures are the recorder's problem, never the command's.
func (r *Router) record(ctx context.Context, sess *session.Session, cmds []string, start time.Time, truncated bool, cmdErr error) {
	rec := session.CommandRecord{
		SessionID: sess.ID,
		Command:   joinCommands(cmds),
		Duration:  r.reg.Clock().Now().Sub(start),
		Truncated: truncated,
		ErrClass:  errClass(cmdErr),
	}
	r.reg.Recorder().RecordCommand(ctx, rec)
}

func joinCommands(cmds []string) string {
	if len(cmds) == 1 {
		return cmds[0]
	}
	out := cmds[0]
	for _, c := range cmds[1:] {
		out += "; " + c
	}
	return out
}

func errClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrCommandTimeout):
		return "timeout"
	case errors.Is(err, session.ErrProcessCrashed):
		return "crashed"
	default:
		return "error"
	}
}
