// Package config is the external configuration surface of the bridge:
// per-backend executables, sentinel template, timeouts and buffer bounds.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackendConfig configures one debugger backend.
type BackendConfig struct {
	// Executable overrides the debugger binary path.
	Executable string `mapstructure:"executable"`
	// Args overrides the base arguments the adapter passes by default.
	Args []string `mapstructure:"args"`
	// UsePTY runs the debugger on a pseudo-terminal instead of pipes.
	UsePTY bool `mapstructure:"use_pty"`
}

// Config holds the bridge configuration.
type Config struct {
	// SentinelPrefix is the leading token of generated frame markers.
	SentinelPrefix string `mapstructure:"sentinel_prefix"`
	// DefaultTimeout bounds a command when the caller sets none.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// InterruptGrace is how long the watchdog waits after an interrupt
	// before killing the process.
	InterruptGrace time.Duration `mapstructure:"interrupt_grace"`
	// SettleTimeout bounds the wait for a debugger's startup banner.
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	// QuitTimeout bounds the wait for a clean exit on session removal.
	QuitTimeout time.Duration `mapstructure:"quit_timeout"`
	// MaxOutputBytes bounds the per-session response buffer.
	MaxOutputBytes int `mapstructure:"max_output_bytes"`
	// DatabasePath enables the session/command audit store when non-empty.
	DatabasePath string `mapstructure:"database_path"`

	Backends map[string]BackendConfig `mapstructure:"backends"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		SentinelPrefix: "DBGBRIDGE",
		DefaultTimeout: 10 * time.Second,
		InterruptGrace: 5 * time.Second,
		SettleTimeout:  3 * time.Second,
		QuitTimeout:    2 * time.Second,
		MaxOutputBytes: 1 << 20,
		Backends:       map[string]BackendConfig{},
	}
}

// Load loads configuration from files and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("dbgbridge")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/dbgbridge/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "dbgbridge"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("DBGBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("sentinel_prefix", cfg.SentinelPrefix)
	v.SetDefault("default_timeout", cfg.DefaultTimeout)
	v.SetDefault("interrupt_grace", cfg.InterruptGrace)
	v.SetDefault("settle_timeout", cfg.SettleTimeout)
	v.SetDefault("quit_timeout", cfg.QuitTimeout)
	v.SetDefault("max_output_bytes", cfg.MaxOutputBytes)
	v.SetDefault("database_path", "")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Backend returns the configuration for one backend name, zero-valued when
// the file does not mention it.
func (c *Config) Backend(name string) BackendConfig {
	return c.Backends[strings.ToLower(name)]
}
