package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianm/dbgbridge/internal/backend"
	"github.com/sebastianm/dbgbridge/internal/process"
)

// newTestRegistry wires a registry whose spawns hand out the given procs in
// order.
func newTestRegistry(t *testing.T, procs []*fakeProc, adapters ...backend.Adapter) *Registry {
	t.Helper()
	next := 0
	spawn := func(_ *slog.Logger, _ process.Spec) (Process, error) {
		require.Less(t, next, len(procs), "unexpected extra spawn")
		p := procs[next]
		next++
		return p, nil
	}
	return NewRegistry(testLogger(), clock.New(), testSettings(), spawn, nil, adapters...)
}

func gdbFake() *fakeAdapter {
	return &fakeAdapter{b: backend.GDB, caps: []backend.Capability{backend.CapLoadAfterStart, backend.CapRunArgs}}
}

func pdbFake() *fakeAdapter {
	return &fakeAdapter{b: backend.PDB, caps: []backend.Capability{backend.CapSpawnTarget}}
}

func TestCreate_ReturnsBannerAndIdleSession(t *testing.T) {
	proc := newFakeProc()
	proc.echoResponder("GNU gdb 14.2\n")
	reg := newTestRegistry(t, []*fakeProc{proc}, gdbFake())

	sess, banner, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)
	assert.Equal(t, "GNU gdb 14.2\n", string(banner.Data))
	assert.Equal(t, StateIdle, sess.State())
	assert.NotEmpty(t, sess.ID)

	infos := reg.List()
	require.Len(t, infos, 1)
	assert.Equal(t, sess.ID, infos[0].ID)
	assert.Equal(t, backend.GDB, infos[0].Backend)
}

func TestCreate_UnconfiguredBackend(t *testing.T) {
	reg := newTestRegistry(t, nil, gdbFake())

	_, _, err := reg.Create(context.Background(), backend.LLDB, CreateOpts{})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestCreate_SpawnTargetBackendRequiresTarget(t *testing.T) {
	reg := newTestRegistry(t, nil, pdbFake())

	_, _, err := reg.Create(context.Background(), backend.PDB, CreateOpts{})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestCreate_SpawnTargetBackendRecordsTarget(t *testing.T) {
	proc := newFakeProc()
	proc.echoResponder("")
	reg := newTestRegistry(t, []*fakeProc{proc}, pdbFake())

	sess, _, err := reg.Create(context.Background(), backend.PDB, CreateOpts{Target: "app.py"})
	require.NoError(t, err)
	assert.Equal(t, "app.py", sess.Info().LoadedTarget)
}

func TestCreate_DebuggerExitsDuringStartup(t *testing.T) {
	proc := newFakeProc()
	proc.respond = func(string) {
		proc.stdout("gdb: unexpected argument\n")
		proc.Terminate()
	}
	reg := newTestRegistry(t, []*fakeProc{proc}, gdbFake())

	_, _, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	assert.ErrorIs(t, err, ErrSpawn)
	assert.Empty(t, reg.List())
}

func TestCreate_QuietDebuggerStillBecomesReady(t *testing.T) {
	// A debugger that never echoes the startup sentinel: the settle window
	// elapses and the session is usable regardless.
	proc := newFakeProc()
	reg := NewRegistry(testLogger(), clock.New(), Settings{
		SentinelPrefix: "SENT",
		SettleTimeout:  20 * time.Millisecond,
		QuitTimeout:    20 * time.Millisecond,
		MaxOutputBytes: 1 << 16,
	}, func(_ *slog.Logger, _ process.Spec) (Process, error) {
		return proc, nil
	}, nil, gdbFake())

	sess, banner, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)
	assert.Empty(t, banner.Data)
	assert.Equal(t, StateIdle, sess.State())
}

func TestGet_UnknownSession(t *testing.T) {
	reg := newTestRegistry(t, nil, gdbFake())

	_, err := reg.Get("no-such-id")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRemove_QuitsAndDropsSession(t *testing.T) {
	proc := newFakeProc()
	proc.echoResponder("ready\n")
	reg := newTestRegistry(t, []*fakeProc{proc}, gdbFake())

	sess, _, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)

	require.NoError(t, reg.Remove(context.Background(), sess.ID))

	assert.Contains(t, proc.written(), "quit")
	assert.False(t, proc.Alive())

	_, err = reg.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// A second removal reports the session as gone.
	assert.ErrorIs(t, reg.Remove(context.Background(), sess.ID), ErrSessionNotFound)
}

func TestRemove_KillsUnresponsiveDebugger(t *testing.T) {
	proc := newFakeProc()
	sentBanner := false
	proc.respond = func(line string) {
		// Answers sentinels but ignores quit.
		if len(line) > 2 && line[:2] == "@@" {
			if !sentBanner {
				sentBanner = true
			}
			proc.stdout(line[2:] + "\n")
		}
	}
	reg := newTestRegistry(t, []*fakeProc{proc}, gdbFake())

	sess, _, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)

	require.NoError(t, reg.Remove(context.Background(), sess.ID))
	assert.False(t, proc.Alive())
}

func TestMarkCrashed_SessionStaysListedAsCrashed(t *testing.T) {
	proc := newFakeProc()
	proc.echoResponder("ready\n")
	reg := newTestRegistry(t, []*fakeProc{proc}, gdbFake())

	sess, _, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)

	reg.MarkCrashed(sess)
	assert.Equal(t, StateCrashed, sess.State())

	// Crashed sessions remain visible until removed.
	infos := reg.List()
	require.Len(t, infos, 1)
	assert.Equal(t, StateCrashed, infos[0].State)

	assert.ErrorIs(t, sess.Acquire(context.Background()), ErrSessionTerminal)
}

func TestSubscribe_ReceivesLifecycleEvents(t *testing.T) {
	proc := newFakeProc()
	proc.echoResponder("ready\n")
	reg := newTestRegistry(t, []*fakeProc{proc}, gdbFake())

	events := reg.Subscribe()
	defer reg.Unsubscribe(events)

	sess, _, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, StateEventUpdate, ev.Type)
	assert.Equal(t, sess.ID, ev.SessionID)
	require.NotNil(t, ev.Info)
	assert.Equal(t, StateIdle, ev.Info.State)

	require.NoError(t, reg.Remove(context.Background(), sess.ID))

	// Removal emits a terminal update followed by the removal itself.
	ev = <-events
	assert.Equal(t, StateEventUpdate, ev.Type)
	ev = <-events
	assert.Equal(t, StateEventRemoved, ev.Type)
	assert.Nil(t, ev.Info)
}

func TestShutdown_RemovesAllSessions(t *testing.T) {
	procA, procB := newFakeProc(), newFakeProc()
	procA.echoResponder("")
	procB.echoResponder("")
	reg := newTestRegistry(t, []*fakeProc{procA, procB}, gdbFake())

	_, _, err := reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)
	_, _, err = reg.Create(context.Background(), backend.GDB, CreateOpts{})
	require.NoError(t, err)
	require.Len(t, reg.List(), 2)

	reg.Shutdown(context.Background())
	assert.Empty(t, reg.List())
	assert.False(t, procA.Alive())
	assert.False(t, procB.Alive())
}

func TestNewMarker_UniqueAndPrefixed(t *testing.T) {
	a := NewMarker("SENT")
	b := NewMarker("SENT")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "SENT-")
}
