package session

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sebastianm/dbgbridge/internal/backend"
	"github.com/sebastianm/dbgbridge/internal/framer"
	"github.com/sebastianm/dbgbridge/internal/process"
)

// fakeProc is a scripted stand-in for a debugger child process. A respond
// hook, when set, is invoked per written line so tests can emit the output a
// real debugger would.
type fakeProc struct {
	chunks chan process.Chunk
	exited chan struct{}

	mu           sync.Mutex
	writes       []string
	alive        bool
	terminated   bool
	echoes       bool
	interrupts   int
	writeErr     error
	interruptErr error
	respond      func(line string)
	onInterrupt  func()
	exit         process.ExitStatus
}

func newFakeProc() *fakeProc {
	return &fakeProc{
		chunks: make(chan process.Chunk, 64),
		exited: make(chan struct{}),
		alive:  true,
		exit:   process.ExitStatus{Code: 0, Signal: -1},
	}
}

func (p *fakeProc) Chunks() <-chan process.Chunk { return p.chunks }
func (p *fakeProc) Exited() <-chan struct{}      { return p.exited }

func (p *fakeProc) ExitStatus() (process.ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive {
		return process.ExitStatus{}, false
	}
	return p.exit, true
}

func (p *fakeProc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProc) Echoes() bool { return p.echoes }

func (p *fakeProc) Write(b []byte) error {
	p.mu.Lock()
	err := p.writeErr
	respond := p.respond
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		p.mu.Lock()
		p.writes = append(p.writes, line)
		p.mu.Unlock()
		if respond != nil {
			respond(line)
		}
	}
	return nil
}

func (p *fakeProc) Interrupt() error {
	p.mu.Lock()
	p.interrupts++
	err := p.interruptErr
	hook := p.onInterrupt
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (p *fakeProc) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return
	}
	p.terminated = true
	p.alive = false
	close(p.exited)
	close(p.chunks)
}

func (p *fakeProc) stdout(text string) {
	p.chunks <- process.Chunk{Source: process.Stdout, Data: []byte(text)}
}

func (p *fakeProc) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// echoResponder mimics a well-behaved debugger: sentinel commands print
// their marker, the quit command exits the process.
func (p *fakeProc) echoResponder(banner string) {
	sentBanner := false
	p.respond = func(line string) {
		switch {
		case strings.HasPrefix(line, "@@"):
			if !sentBanner && banner != "" {
				p.stdout(banner)
				sentBanner = true
			}
			p.stdout(strings.TrimPrefix(line, "@@") + "\n")
		case line == "quit":
			p.Terminate()
		}
	}
}

// fakeAdapter keeps command syntax trivially parseable for fakeProc.
type fakeAdapter struct {
	b    backend.Backend
	caps []backend.Capability
}

func (a *fakeAdapter) Backend() backend.Backend { return a.b }

func (a *fakeAdapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{Backend: a.b, Supported: a.caps}
}

func (a *fakeAdapter) SpawnSpec(target string, _ []string) process.Spec {
	return process.Spec{Executable: "fake-debugger", Args: []string{target}}
}

func (a *fakeAdapter) BuildLoad(target string, _ []string) ([]string, error) {
	return []string{"load " + target}, nil
}

func (a *fakeAdapter) BuildRaw(text string) string { return text }

func (a *fakeAdapter) BuildContinue() string { return "continue" }

func (a *fakeAdapter) BuildSentinel(marker string) string { return "@@" + marker }

func (a *fakeAdapter) StopPatterns() []string { return []string{"stopped at"} }

func (a *fakeAdapter) QuitCommand() string { return "quit" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	return Settings{
		SentinelPrefix: "SENT",
		SettleTimeout:  500 * time.Millisecond,
		QuitTimeout:    100 * time.Millisecond,
		MaxOutputBytes: 1 << 16,
	}
}

func newIdleSession() (*Session, *fakeProc) {
	p := newFakeProc()
	return &Session{
		ID:      "test-session",
		Backend: backend.GDB,
		Adapter: &fakeAdapter{b: backend.GDB, caps: []backend.Capability{backend.CapLoadAfterStart}},
		Proc:    p,
		Framer:  framer.New(clock.New(), 0),
		state:   StateIdle,
	}, p
}
