package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/sebastianm/dbgbridge/internal/backend"
	"github.com/sebastianm/dbgbridge/internal/framer"
	"github.com/sebastianm/dbgbridge/internal/process"
)

// SpawnFunc starts a debugger child process. The default wraps
// process.Spawn; tests substitute scripted fakes.
type SpawnFunc func(log *slog.Logger, spec process.Spec) (Process, error)

// DefaultSpawn spawns a real child process.
func DefaultSpawn(log *slog.Logger, spec process.Spec) (Process, error) {
	return process.Spawn(log, spec)
}

// Settings are the engine-level knobs the registry and bridge consume.
type Settings struct {
	// SentinelPrefix is the leading token of generated frame markers.
	SentinelPrefix string
	// SettleTimeout bounds how long session creation waits for the
	// debugger's banner before declaring the session ready anyway.
	SettleTimeout time.Duration
	// QuitTimeout bounds how long removal waits for a clean exit before
	// killing the process.
	QuitTimeout time.Duration
	// MaxOutputBytes bounds the per-session response buffer.
	MaxOutputBytes int
}

// NewMarker generates a sentinel marker: a token improbable enough that it
// can only appear in debugger output because our sentinel command printed it.
func NewMarker(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// CreateOpts carries per-session spawn inputs.
type CreateOpts struct {
	// Target is the program to debug. Required for backends that take the
	// target on the debugger command line (PDB); optional otherwise.
	Target string
	// Args are debuggee arguments, honored where the backend supports them.
	Args []string
}

// StateEventType describes what kind of registry change occurred.
type StateEventType int

const (
	// StateEventUpdate indicates a session was added or changed state.
	StateEventUpdate StateEventType = iota
	// StateEventRemoved indicates a session was removed.
	StateEventRemoved
)

// StateEvent carries information about a registry change.
type StateEvent struct {
	Type      StateEventType
	SessionID string
	// Info is set for Update events, nil for Removed.
	Info *Info
}

// Recorder receives session and command bookkeeping, best-effort.
type Recorder interface {
	RecordSessionStart(ctx context.Context, info Info)
	RecordSessionEnd(ctx context.Context, id string, state State)
	RecordCommand(ctx context.Context, rec CommandRecord)
}

// CommandRecord is one executed command's audit row.
type CommandRecord struct {
	SessionID string
	Command   string
	Duration  time.Duration
	Truncated bool
	ErrClass  string
}

// NopRecorder keeps the engine usable without a database.
type NopRecorder struct{}

func (NopRecorder) RecordSessionStart(context.Context, Info)        {}
func (NopRecorder) RecordSessionEnd(context.Context, string, State) {}
func (NopRecorder) RecordCommand(context.Context, CommandRecord)    {}

// Registry owns the set of live sessions. Session identity and buffers live
// here and nowhere else.
type Registry struct {
	log      *slog.Logger
	clk      clock.Clock
	settings Settings
	spawn    SpawnFunc
	adapters map[backend.Backend]backend.Adapter
	recorder Recorder

	mu          sync.RWMutex
	sessions    map[string]*Session
	subscribers map[chan StateEvent]struct{}
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(log *slog.Logger, clk clock.Clock, settings Settings, spawn SpawnFunc, recorder Recorder, adapters ...backend.Adapter) *Registry {
	if spawn == nil {
		spawn = DefaultSpawn
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	am := make(map[backend.Backend]backend.Adapter, len(adapters))
	for _, a := range adapters {
		am[a.Backend()] = a
	}
	return &Registry{
		log:         log,
		clk:         clk,
		settings:    settings,
		spawn:       spawn,
		adapters:    am,
		recorder:    recorder,
		sessions:    make(map[string]*Session),
		subscribers: make(map[chan StateEvent]struct{}),
	}
}

// Settings exposes the engine knobs to the bridge.
func (r *Registry) Settings() Settings { return r.settings }

// Recorder exposes the audit hook to the bridge.
func (r *Registry) Recorder() Recorder { return r.recorder }

// Clock exposes the registry clock so deadlines share one time source.
func (r *Registry) Clock() clock.Clock { return r.clk }

// Create spawns a debugger process and registers a new session for it. The
// session is Starting until the banner frame is read or the settle window
// elapses, then Idle. The banner frame is returned alongside the session.
func (r *Registry) Create(ctx context.Context, b backend.Backend, opts CreateOpts) (*Session, framer.Frame, error) {
	adapter, ok := r.adapters[b]
	if !ok {
		return nil, framer.Frame{}, fmt.Errorf("backend %q not configured: %w", b, ErrNotSupported)
	}
	caps := adapter.Capabilities()
	if caps.Has(backend.CapSpawnTarget) && opts.Target == "" {
		return nil, framer.Frame{}, fmt.Errorf("backend %q requires a target at session start: %w", b, ErrNotSupported)
	}

	spec := adapter.SpawnSpec(opts.Target, opts.Args)
	id := uuid.New().String()
	log := r.log.With("session_id", id, "backend", b)

	proc, err := r.spawn(log, spec)
	if err != nil {
		return nil, framer.Frame{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	now := r.clk.Now()
	sess := &Session{
		ID:           id,
		Backend:      b,
		Adapter:      adapter,
		Proc:         proc,
		Framer:       framer.New(r.clk, r.settings.MaxOutputBytes),
		state:        StateStarting,
		busy:         true, // creation holds the command slot until ready
		createdAt:    now,
		lastActivity: now,
		onTerminal:   r.handleTerminal,
	}
	if caps.Has(backend.CapSpawnTarget) {
		sess.target = opts.Target
	}

	banner, err := r.readBanner(ctx, sess)
	if err != nil {
		proc.Terminate()
		return nil, banner, err
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	_ = sess.Release() // Starting -> Idle (or hand off, if anyone queued already)

	info := sess.Info()
	r.recorder.RecordSessionStart(ctx, info)
	r.notify(StateEvent{Type: StateEventUpdate, SessionID: id, Info: &info})
	log.Info("session created", "pid_alive", proc.Alive(), "target", opts.Target)
	return sess, banner, nil
}

// readBanner queues a sentinel right after spawn so the debugger's startup
// output becomes an ordinary frame. A quiet debugger that misses the settle
// window is still considered ready.
func (r *Registry) readBanner(ctx context.Context, sess *Session) (framer.Frame, error) {
	marker := NewMarker(r.settings.SentinelPrefix)
	sentinel := sess.Adapter.BuildSentinel(marker)
	if err := sess.Proc.Write([]byte(sentinel + "\n")); err != nil {
		return framer.Frame{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	var echoes []string
	if sess.Proc.Echoes() {
		echoes = []string{sentinel}
	}
	banner, err := sess.Framer.ReadFrame(ctx, sess.Proc, marker, echoes, r.settings.SettleTimeout)
	switch {
	case err == nil:
		return banner, nil
	case errors.Is(err, framer.ErrDeadline):
		return banner, nil // settle window elapsed; proceed
	case errors.Is(err, framer.ErrStreamClosed):
		return banner, fmt.Errorf("%w: debugger exited during startup: %s", ErrSpawn, banner.Data)
	default:
		return banner, err
	}
}

// Get resolves a session id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List snapshots all registered sessions.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(lo.Values(r.sessions), func(s *Session, _ int) Info {
		return s.Info()
	})
}

// Remove terminates a session's process, releases its resources and drops
// it from the registry. Queued commands fail with ErrSessionNotFound. A
// clean quit is attempted first; termination is the backstop either way.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if sess.Proc.Alive() {
		quit := sess.Adapter.QuitCommand()
		if err := sess.Proc.Write([]byte(quit + "\n")); err == nil {
			select {
			case <-sess.Proc.Exited():
			case <-r.clk.After(r.settings.QuitTimeout):
			case <-ctx.Done():
			}
		}
	}

	sess.markRemoved()
	r.notify(StateEvent{Type: StateEventRemoved, SessionID: id})
	r.log.Info("session removed", "session_id", id)
	return nil
}

// MarkCrashed flips a session to Crashed after an unexpected process exit.
func (r *Registry) MarkCrashed(sess *Session) {
	sess.markTerminal(StateCrashed, ErrSessionTerminal)
}

func (r *Registry) handleTerminal(sess *Session) {
	info := sess.Info()
	r.recorder.RecordSessionEnd(context.Background(), sess.ID, info.State)
	r.notify(StateEvent{Type: StateEventUpdate, SessionID: sess.ID, Info: &info})
}

// Shutdown removes every session. Used by entry points on exit.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, info := range r.List() {
		_ = r.Remove(ctx, info.ID)
	}
}

// Subscribe returns a channel receiving a StateEvent on every registry
// change. The caller must eventually call Unsubscribe.
func (r *Registry) Subscribe() chan StateEvent {
	ch := make(chan StateEvent, 16)
	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (r *Registry) Unsubscribe(ch chan StateEvent) {
	r.mu.Lock()
	delete(r.subscribers, ch)
	r.mu.Unlock()
}

func (r *Registry) notify(event StateEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subscribers {
		select {
		case ch <- event:
		default: // channel full, drop oldest and send new
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}
