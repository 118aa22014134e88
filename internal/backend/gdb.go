package backend

import (
	"strings"

	"github.com/sebastianm/dbgbridge/internal/process"
)

// gdbAdapter speaks plain GDB console syntax. The session is spawned in
// console mode (-q -nx) rather than MI: raw user commands and the sentinel
// echo then share a single syntax surface.
type gdbAdapter struct {
	cfg Config
}

func (a *gdbAdapter) Backend() Backend { return GDB }

func (a *gdbAdapter) Capabilities() Capabilities {
	return Capabilities{
		Backend:   GDB,
		Supported: []Capability{CapLoadAfterStart, CapRunArgs},
	}
}

func (a *gdbAdapter) SpawnSpec(_ string, _ []string) process.Spec {
	exe := a.cfg.Executable
	if exe == "" {
		exe = "gdb"
	}
	args := a.cfg.Args
	if args == nil {
		args = []string{"-q", "-nx"}
	}
	return process.Spec{
		Executable: exe,
		Args:       args,
		UsePTY:     a.cfg.UsePTY,
	}
}

func (a *gdbAdapter) BuildLoad(target string, args []string) ([]string, error) {
	cmds := []string{"file " + quotePath(target)}
	if len(args) > 0 {
		cmds = append(cmds, "set args "+strings.Join(args, " "))
	}
	return cmds, nil
}

func (a *gdbAdapter) BuildRaw(text string) string { return sanitizeLine(text) }

func (a *gdbAdapter) BuildContinue() string { return "continue" }

func (a *gdbAdapter) BuildSentinel(marker string) string {
	// gdb's echo command expands \n escapes, so the marker lands on its own line.
	return `echo \n` + marker + `\n`
}

func (a *gdbAdapter) StopPatterns() []string {
	return []string{"Breakpoint ", "Temporary breakpoint ", "received signal", "[Inferior "}
}

func (a *gdbAdapter) QuitCommand() string { return "quit" }
