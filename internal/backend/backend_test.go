package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("accepts known names case insensitively", func(t *testing.T) {
		for name, want := range map[string]Backend{
			"gdb":  GDB,
			"LLDB": LLDB,
			" pdb": PDB,
		} {
			got, err := Parse(name)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		_, err := Parse("windbg")
		assert.Error(t, err)
	})
}

func TestCapabilities_Has(t *testing.T) {
	caps := Capabilities{
		Backend:   GDB,
		Supported: []Capability{CapLoadAfterStart, CapRunArgs},
	}

	assert.True(t, caps.Has(CapLoadAfterStart))
	assert.True(t, caps.Has(CapRunArgs))
	assert.False(t, caps.Has(CapSpawnTarget))
}

func TestGDBAdapter(t *testing.T) {
	a, err := New(GDB, Config{})
	require.NoError(t, err)

	t.Run("spawn spec is quiet console mode", func(t *testing.T) {
		spec := a.SpawnSpec("", nil)
		assert.Equal(t, "gdb", spec.Executable)
		assert.Equal(t, []string{"-q", "-nx"}, spec.Args)
	})

	t.Run("load sets file then args", func(t *testing.T) {
		cmds, err := a.BuildLoad("/bin/true", []string{"--flag", "value"})
		require.NoError(t, err)
		assert.Equal(t, []string{"file /bin/true", "set args --flag value"}, cmds)
	})

	t.Run("load without args omits set args", func(t *testing.T) {
		cmds, err := a.BuildLoad("/bin/true", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"file /bin/true"}, cmds)
	})

	t.Run("load quotes paths with spaces", func(t *testing.T) {
		cmds, err := a.BuildLoad("/tmp/my program", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{`file "/tmp/my program"`}, cmds)
	})

	t.Run("sentinel echoes marker on its own line", func(t *testing.T) {
		assert.Equal(t, `echo \nMARK\n`, a.BuildSentinel("MARK"))
	})

	assert.Equal(t, "continue", a.BuildContinue())
	assert.Equal(t, "quit", a.QuitCommand())
	assert.Contains(t, a.StopPatterns(), "received signal")
}

func TestLLDBAdapter(t *testing.T) {
	a, err := New(LLDB, Config{})
	require.NoError(t, err)

	t.Run("spawn spec disables colors and rc files", func(t *testing.T) {
		spec := a.SpawnSpec("", nil)
		assert.Equal(t, "lldb", spec.Executable)
		assert.Equal(t, []string{"--no-use-colors", "--source-quietly"}, spec.Args)
	})

	t.Run("load sets file then run-args", func(t *testing.T) {
		cmds, err := a.BuildLoad("/bin/true", []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"file /bin/true", "settings set target.run-args a b"}, cmds)
	})

	t.Run("sentinel goes through the script interpreter", func(t *testing.T) {
		assert.Equal(t, `script print("MARK")`, a.BuildSentinel("MARK"))
	})

	assert.Equal(t, "quit", a.QuitCommand())
	assert.Contains(t, a.StopPatterns(), "stop reason")
}

func TestPDBAdapter(t *testing.T) {
	a, err := New(PDB, Config{})
	require.NoError(t, err)

	t.Run("target rides the interpreter command line", func(t *testing.T) {
		spec := a.SpawnSpec("app.py", []string{"--port", "8080"})
		assert.Equal(t, "python3", spec.Executable)
		assert.Equal(t, []string{"-m", "pdb", "app.py", "--port", "8080"}, spec.Args)
	})

	t.Run("load after start is refused", func(t *testing.T) {
		_, err := a.BuildLoad("other.py", nil)
		assert.ErrorIs(t, err, ErrLoadAtSpawnOnly)
	})

	t.Run("sentinel is a plain print", func(t *testing.T) {
		assert.Equal(t, `print("MARK")`, a.BuildSentinel("MARK"))
	})

	assert.True(t, a.Capabilities().Has(CapSpawnTarget))
	assert.False(t, a.Capabilities().Has(CapLoadAfterStart))
	assert.Equal(t, "q", a.QuitCommand())
	assert.Contains(t, a.StopPatterns(), "--Return--")
}

func TestAdapter_ConfigOverrides(t *testing.T) {
	a, err := New(GDB, Config{Executable: "/opt/gdb/bin/gdb", Args: []string{"-q"}})
	require.NoError(t, err)

	spec := a.SpawnSpec("", nil)
	assert.Equal(t, "/opt/gdb/bin/gdb", spec.Executable)
	assert.Equal(t, []string{"-q"}, spec.Args)
}

func TestBuildRaw_SanitizesToSingleLine(t *testing.T) {
	a, err := New(GDB, Config{})
	require.NoError(t, err)

	assert.Equal(t, "break main", a.BuildRaw("break main\nrun"))
	assert.Equal(t, "info registers", a.BuildRaw("info registers\r\n"))
	assert.Equal(t, "bt", a.BuildRaw("bt   "))
}
