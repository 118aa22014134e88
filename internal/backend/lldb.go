package backend

import (
	"strings"

	"github.com/sebastianm/dbgbridge/internal/process"
)

type lldbAdapter struct {
	cfg Config
}

func (a *lldbAdapter) Backend() Backend { return LLDB }

func (a *lldbAdapter) Capabilities() Capabilities {
	return Capabilities{
		Backend:   LLDB,
		Supported: []Capability{CapLoadAfterStart, CapRunArgs},
	}
}

func (a *lldbAdapter) SpawnSpec(_ string, _ []string) process.Spec {
	exe := a.cfg.Executable
	if exe == "" {
		exe = "lldb"
	}
	args := a.cfg.Args
	if args == nil {
		args = []string{"--no-use-colors", "--source-quietly"}
	}
	return process.Spec{
		Executable: exe,
		Args:       args,
		UsePTY:     a.cfg.UsePTY,
	}
}

func (a *lldbAdapter) BuildLoad(target string, args []string) ([]string, error) {
	cmds := []string{"file " + quotePath(target)}
	if len(args) > 0 {
		cmds = append(cmds, "settings set target.run-args "+strings.Join(args, " "))
	}
	return cmds, nil
}

func (a *lldbAdapter) BuildRaw(text string) string { return sanitizeLine(text) }

func (a *lldbAdapter) BuildContinue() string { return "continue" }

func (a *lldbAdapter) BuildSentinel(marker string) string {
	return `script print("` + marker + `")`
}

func (a *lldbAdapter) StopPatterns() []string {
	return []string{"stop reason", "exited with status"}
}

func (a *lldbAdapter) QuitCommand() string { return "quit" }
