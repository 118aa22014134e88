package backend

import (
	"errors"

	"github.com/sebastianm/dbgbridge/internal/process"
)

// ErrLoadAtSpawnOnly is returned by adapters that only accept a target on
// the debugger's own command line.
var ErrLoadAtSpawnOnly = errors.New("backend loads its target at spawn time")

// pdbAdapter drives python3 -m pdb. The script under debug is part of the
// interpreter invocation, so there is no load-after-start.
type pdbAdapter struct {
	cfg Config
}

func (a *pdbAdapter) Backend() Backend { return PDB }

func (a *pdbAdapter) Capabilities() Capabilities {
	return Capabilities{
		Backend:   PDB,
		Supported: []Capability{CapSpawnTarget},
	}
}

func (a *pdbAdapter) SpawnSpec(target string, args []string) process.Spec {
	exe := a.cfg.Executable
	if exe == "" {
		exe = "python3"
	}
	base := a.cfg.Args
	if base == nil {
		base = []string{"-m", "pdb"}
	}
	spawnArgs := append(append([]string{}, base...), target)
	spawnArgs = append(spawnArgs, args...)
	return process.Spec{
		Executable: exe,
		Args:       spawnArgs,
		UsePTY:     a.cfg.UsePTY,
	}
}

func (a *pdbAdapter) BuildLoad(string, []string) ([]string, error) {
	return nil, ErrLoadAtSpawnOnly
}

func (a *pdbAdapter) BuildRaw(text string) string { return sanitizeLine(text) }

func (a *pdbAdapter) BuildContinue() string { return "continue" }

func (a *pdbAdapter) BuildSentinel(marker string) string {
	return `print("` + marker + `")`
}

func (a *pdbAdapter) StopPatterns() []string {
	return []string{"--Return--", "The program finished", "> "}
}

func (a *pdbAdapter) QuitCommand() string { return "q" }
