// Package process owns the child debugger process: spawn, stdin writes,
// pump-driven output delivery, interrupt and termination. Consumers never
// block in an OS read; two pump goroutines own the blocking reads and hand
// out tagged chunks on a channel.
package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty/v2"
)

// Source tags which stream a chunk was read from.
type Source int

const (
	Stdout Source = iota
	Stderr
)

// Chunk is one read's worth of child output.
type Chunk struct {
	Source Source
	Data   []byte
}

// ExitStatus describes how the child ended.
type ExitStatus struct {
	Code   int
	Signal int // -1 when the child was not signalled
}

// Spec describes a child debugger process to spawn.
type Spec struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string
	// UsePTY runs the child on a pseudo-terminal. Some debuggers buffer or
	// reformat output when they detect a pipe; the framer strips the input
	// echo a pty introduces.
	UsePTY bool
}

const chunkBufSize = 4096

// Controller owns exactly one child process. It is created by Spawn and
// released by Terminate, which is idempotent and always reaps the child.
type Controller struct {
	log   *slog.Logger
	cmd   *exec.Cmd
	stdin io.WriteCloser
	ptmx  *os.File // non-nil in pty mode; doubles as stdin

	chunks chan Chunk
	exited chan struct{}
	stop   chan struct{} // closed by Terminate so pumps never block a kill

	mu       sync.Mutex
	exit     ExitStatus
	hasExit  bool
	termOnce sync.Once
}

// Spawn starts the child described by spec and begins pumping its output.
func Spawn(log *slog.Logger, spec Spec) (*Controller, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	c := &Controller{
		log:    log.With("executable", spec.Executable),
		cmd:    cmd,
		chunks: make(chan Chunk, 64),
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
	}

	var pumps sync.WaitGroup
	if spec.UsePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("start %s on pty: %w", spec.Executable, err)
		}
		c.ptmx = ptmx
		c.stdin = ptmx
		pumps.Add(1)
		go c.pump(&pumps, ptmx, Stdout)
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		configureSysProcAttr(cmd)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", spec.Executable, err)
		}
		c.stdin = stdin
		pumps.Add(2)
		go c.pump(&pumps, stdout, Stdout)
		go c.pump(&pumps, stderr, Stderr)
	}

	c.log.Debug("child spawned", "pid", cmd.Process.Pid, "pty", spec.UsePTY)

	go c.reap(&pumps)
	return c, nil
}

func (c *Controller) pump(wg *sync.WaitGroup, r io.Reader, src Source) {
	defer wg.Done()
	buf := make([]byte, chunkBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.chunks <- Chunk{Source: src, Data: data}:
			case <-c.stop:
				// Tear-down in progress; drain to EOF without delivering.
			}
		}
		if err != nil {
			return
		}
	}
}

// reap waits for the pumps to drain and the child to exit, records the exit
// status, then closes the chunk channel so readers observe end of stream.
func (c *Controller) reap(pumps *sync.WaitGroup) {
	pumps.Wait()
	err := c.cmd.Wait()

	status := ExitStatus{Code: c.cmd.ProcessState.ExitCode(), Signal: -1}
	if sig, ok := exitSignal(c.cmd.ProcessState); ok {
		status.Signal = sig
	}

	c.mu.Lock()
	c.exit = status
	c.hasExit = true
	c.mu.Unlock()

	if c.ptmx != nil {
		_ = c.ptmx.Close()
	}

	c.log.Debug("child exited", "code", status.Code, "signal", status.Signal, "wait_err", err)
	close(c.exited)
	close(c.chunks)
}

// Chunks delivers child output. The channel is closed after the child exits
// and all remaining output has been delivered.
func (c *Controller) Chunks() <-chan Chunk { return c.chunks }

// Echoes reports whether the child's input is echoed back in its output.
// Only the pty line discipline echoes; pipes never do.
func (c *Controller) Echoes() bool { return c.ptmx != nil }

// Exited is closed once the child has been reaped.
func (c *Controller) Exited() <-chan struct{} { return c.exited }

// ExitStatus reports how the child ended, if it has.
func (c *Controller) ExitStatus() (ExitStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit, c.hasExit
}

// Alive reports whether the child has not yet been reaped.
func (c *Controller) Alive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// Write sends bytes to the child's input stream.
func (c *Controller) Write(p []byte) error {
	if !c.Alive() {
		return fmt.Errorf("write to exited process")
	}
	if _, err := c.stdin.Write(p); err != nil {
		return fmt.Errorf("write to child: %w", err)
	}
	return nil
}

// Interrupt sends an interrupt to the child without terminating it, used to
// reclaim control from a runaway debuggee. Safe and idempotent on a dead
// process.
func (c *Controller) Interrupt() error {
	if !c.Alive() {
		return nil
	}
	if c.ptmx != nil {
		// On a pty the line discipline turns ^C into SIGINT for the
		// foreground process group, which is the debuggee while it runs.
		_, err := c.ptmx.Write([]byte{0x03})
		return err
	}
	return interrupt(c.cmd)
}

// Terminate forcefully kills the child and releases its resources. Idempotent.
func (c *Controller) Terminate() {
	c.termOnce.Do(func() {
		close(c.stop)
		if c.Alive() {
			kill(c.cmd)
		}
		_ = c.stdin.Close()
		// reap() closes the pty, records the status and closes channels.
		<-c.exited
	})
}
