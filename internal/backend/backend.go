package backend

import (
	"fmt"
	"strings"

	"github.com/sebastianm/dbgbridge/internal/process"
)

// Backend identifies a supported debugger program.
type Backend string

const (
	GDB  Backend = "gdb"
	LLDB Backend = "lldb"
	PDB  Backend = "pdb"
)

// All lists every supported backend.
func All() []Backend {
	return []Backend{GDB, LLDB, PDB}
}

// Parse maps a backend name to its tag.
func Parse(name string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(name))) {
	case GDB:
		return GDB, nil
	case LLDB:
		return LLDB, nil
	case PDB:
		return PDB, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected gdb, lldb or pdb)", name)
	}
}

// Capability describes an optional feature a backend adapter supports.
type Capability string

const (
	// CapLoadAfterStart means a program can be loaded into an already
	// running debugger session.
	CapLoadAfterStart Capability = "load_after_start"
	// CapRunArgs means debuggee arguments can be set after the target is loaded.
	CapRunArgs Capability = "run_args"
	// CapSpawnTarget means the target program is passed on the debugger's
	// own command line at spawn time.
	CapSpawnTarget Capability = "spawn_target"
)

// Capabilities describes what a backend adapter supports.
type Capabilities struct {
	Backend   Backend      `json:"backend"`
	Supported []Capability `json:"supported"`
}

// Has returns true if the capability is in the supported list.
func (c Capabilities) Has(cap Capability) bool {
	for _, s := range c.Supported {
		if s == cap {
			return true
		}
	}
	return false
}

// Config carries the spawn-time settings for one backend. Zero values fall
// back to the adapter's built-in defaults.
type Config struct {
	// Executable overrides the debugger binary path.
	Executable string
	// Args overrides the base arguments passed before any target.
	Args []string
	// UsePTY spawns the debugger on a pseudo-terminal instead of pipes.
	UsePTY bool
}

// Adapter translates logical actions into the literal command text one
// debugger understands. Variants exist for GDB, LLDB and PDB; the engine is
// written once against this interface and never branches on the backend.
type Adapter interface {
	Backend() Backend
	Capabilities() Capabilities

	// SpawnSpec builds the process spec for a new session. target is only
	// honored by adapters with CapSpawnTarget; others load later.
	SpawnSpec(target string, args []string) process.Spec

	// BuildLoad returns the command sequence that loads a target (and its
	// arguments, where supported) into a running session.
	BuildLoad(target string, args []string) ([]string, error)

	// BuildRaw sanitizes a caller-supplied command for submission. The
	// result is always a single line.
	BuildRaw(text string) string

	// BuildContinue resumes the debuggee.
	BuildContinue() string

	// BuildSentinel returns the no-op command that makes the debugger print
	// the given marker, used to delimit the previous command's output.
	BuildSentinel(marker string) string

	// StopPatterns lists the output phrasings this debugger prints when the
	// debuggee stops (breakpoint, signal, exit). Used as the default
	// boundary for wait-style reads.
	StopPatterns() []string

	// QuitCommand exits the debugger cleanly.
	QuitCommand() string
}

// New constructs the adapter variant for a backend.
func New(b Backend, cfg Config) (Adapter, error) {
	switch b {
	case GDB:
		return &gdbAdapter{cfg: cfg}, nil
	case LLDB:
		return &lldbAdapter{cfg: cfg}, nil
	case PDB:
		return &pdbAdapter{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", b)
	}
}

// sanitizeLine collapses a command to a single line so one request can never
// smuggle a second command past the framer.
func sanitizeLine(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimRight(text, " \t")
}

// quotePath wraps a path in double quotes when it contains characters the
// debugger command line would split on.
func quotePath(p string) string {
	if !strings.ContainsAny(p, " \t\"'") {
		return p
	}
	escaped := strings.ReplaceAll(p, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
