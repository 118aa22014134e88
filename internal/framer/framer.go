// Package framer turns the unstructured byte stream of one debugger process
// into discrete responses. A frame ends when the debugger prints back the
// sentinel marker that was queued behind the real command; the debugger's
// own prompt string is treated as ordinary payload, since debuggee output
// can contain it.
package framer

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sebastianm/dbgbridge/internal/process"
)

var (
	// ErrDeadline means no frame boundary was seen within the deadline.
	ErrDeadline = errors.New("no frame boundary within deadline")
	// ErrStreamClosed means the process output ended before the boundary.
	ErrStreamClosed = errors.New("stream closed before frame boundary")
)

// Stream is the borrowed view of a process the framer reads from.
type Stream interface {
	Chunks() <-chan process.Chunk
	Exited() <-chan struct{}
}

// Frame is one command's complete (or truncated) response.
type Frame struct {
	Data      []byte
	Truncated bool
}

const stderrPrefix = "[stderr] "

// Framer accumulates partial reads for one session across calls. It is not
// safe for concurrent use; the per-session gate guarantees a single caller.
type Framer struct {
	clk clock.Clock
	max int

	buf       bytes.Buffer // completed response bytes, stderr interleaved
	outLine   []byte       // partial stdout line carried between reads
	errLine   []byte       // partial stderr line carried between reads
	truncated bool
}

// New creates a framer whose buffered output is bounded by maxBytes.
func New(clk clock.Clock, maxBytes int) *Framer {
	return &Framer{clk: clk, max: maxBytes}
}

// ReadFrame consumes stream chunks until a stdout line carries the marker,
// the deadline passes, or the stream ends. echoes lists the exact command
// lines that were just written (the real command and the sentinel command):
// if the process echoes its input, each is stripped once, and a marker seen
// inside the echoed sentinel command is never treated as the boundary. On
// ErrDeadline and ErrStreamClosed the partial frame collected so far is
// still returned.
func (f *Framer) ReadFrame(ctx context.Context, s Stream, marker string, echoes []string, deadline time.Duration) (Frame, error) {
	timer := f.clk.Timer(deadline)
	defer timer.Stop()

	pending := append([]string(nil), echoes...)

	for {
		select {
		case chunk, ok := <-s.Chunks():
			if !ok {
				return f.take(true), ErrStreamClosed
			}
			if frame, done := f.scan(marker, &pending, chunk); done {
				return frame, nil
			}
		case <-timer.C:
			return f.take(true), ErrDeadline
		case <-ctx.Done():
			return f.take(true), ctx.Err()
		}
	}
}

// ReadUntil consumes stream chunks until a stdout line contains one of the
// patterns. Unlike ReadFrame the matching line is part of the returned data;
// this serves wait-for-stop style reads where the caller names the boundary.
func (f *Framer) ReadUntil(ctx context.Context, s Stream, patterns []string, deadline time.Duration) (Frame, error) {
	timer := f.clk.Timer(deadline)
	defer timer.Stop()

	for {
		select {
		case chunk, ok := <-s.Chunks():
			if !ok {
				return f.take(true), ErrStreamClosed
			}
			if frame, done := f.scanPatterns(patterns, chunk); done {
				return frame, nil
			}
		case <-timer.C:
			return f.take(true), ErrDeadline
		case <-ctx.Done():
			return f.take(true), ctx.Err()
		}
	}
}

// Drain returns whatever unsolicited output accumulated since the last
// frame, without blocking. Called before submitting a command so stale
// debuggee output is attributed to the caller that sees it, not mistaken
// for part of the next response.
func (f *Framer) Drain(s Stream) []byte {
	for {
		select {
		case chunk, ok := <-s.Chunks():
			if !ok {
				return f.take(false).Data
			}
			f.ingest(chunk)
		default:
			return f.take(false).Data
		}
	}
}

// Reset discards all buffered state.
func (f *Framer) Reset() {
	f.buf.Reset()
	f.outLine = nil
	f.errLine = nil
	f.truncated = false
}

// scan ingests a chunk, then looks for the marker among newly completed
// stdout lines. Returns the finished frame when found.
func (f *Framer) scan(marker string, pending *[]string, chunk process.Chunk) (Frame, bool) {
	if chunk.Source == process.Stderr {
		f.ingest(chunk)
		return Frame{}, false
	}

	data := append(f.outLine, chunk.Data...)
	f.outLine = nil
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			f.outLine = data
			return Frame{}, false
		}
		line := data[:i+1]
		data = data[i+1:]

		switch {
		case stripEcho(pending, line):
			// Input echo of a command we just wrote; drop it. A marker
			// inside the echoed sentinel command must not end the frame.
		case bytes.Contains(line, []byte(marker)):
			f.outLine = data // anything after the marker belongs to the next frame
			return f.take(false), true
		default:
			f.append(line)
		}
	}
}

// stripEcho reports whether line is the local input echo of one of the
// pending command lines, consuming that entry so genuine output matching a
// command's text later is kept.
func stripEcho(pending *[]string, line []byte) bool {
	for i, cmd := range *pending {
		if cmd != "" && bytes.Contains(line, []byte(cmd)) {
			*pending = append((*pending)[:i], (*pending)[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Framer) scanPatterns(patterns []string, chunk process.Chunk) (Frame, bool) {
	if chunk.Source == process.Stderr {
		f.ingest(chunk)
		return Frame{}, false
	}

	data := append(f.outLine, chunk.Data...)
	f.outLine = nil
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			f.outLine = data
			return Frame{}, false
		}
		line := data[:i+1]
		data = data[i+1:]
		f.append(line)
		if matchesAny(line, patterns) {
			f.outLine = data
			return f.take(false), true
		}
	}
}

func matchesAny(line []byte, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && bytes.Contains(line, []byte(p)) {
			return true
		}
	}
	return false
}

// ingest buffers a chunk without boundary detection, interleaving completed
// stderr lines with a prefix so callers can tell the streams apart.
func (f *Framer) ingest(chunk process.Chunk) {
	if chunk.Source == process.Stdout {
		data := append(f.outLine, chunk.Data...)
		f.outLine = nil
		for {
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				f.outLine = data
				return
			}
			f.append(data[:i+1])
			data = data[i+1:]
		}
	}

	data := append(f.errLine, chunk.Data...)
	f.errLine = nil
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			f.errLine = data
			return
		}
		f.append(append([]byte(stderrPrefix), data[:i+1]...))
		data = data[i+1:]
	}
}

// append adds bytes to the frame buffer, dropping the oldest bytes once the
// bound is exceeded.
func (f *Framer) append(p []byte) {
	f.buf.Write(p)
	if f.max > 0 && f.buf.Len() > f.max {
		over := f.buf.Len() - f.max
		f.buf.Next(over)
		f.truncated = true
	}
}

// take hands out the buffered frame and resets for the next one. Partial
// trailing lines are flushed only when the frame itself is incomplete
// (timeout or stream end), signalled by flushPartial: a crashing debuggee's
// last words often lack the trailing newline.
func (f *Framer) take(flushPartial bool) Frame {
	if flushPartial {
		if len(f.outLine) > 0 {
			f.append(f.outLine)
			f.outLine = nil
		}
		if len(f.errLine) > 0 {
			f.append(append([]byte(stderrPrefix), f.errLine...))
			f.errLine = nil
		}
	}
	frame := Frame{
		Data:      append([]byte(nil), f.buf.Bytes()...),
		Truncated: f.truncated,
	}
	f.buf.Reset()
	f.truncated = false
	return frame
}
