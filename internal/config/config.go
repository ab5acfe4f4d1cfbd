// Package config loads and persists the engine configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// SandboxConfig holds the sandbox adjustments a user may persist. The
// additional paths extend every workspace-write policy; they never shrink
// the read-only baseline.
type SandboxConfig struct {
	AdditionalReadOnlyPaths  []string `json:"additional_read_only_paths,omitempty"`
	AdditionalReadWritePaths []string `json:"additional_read_write_paths,omitempty"`
	// DisableSandbox turns isolation off entirely. Every run warns.
	DisableSandbox bool `json:"disable_sandbox,omitempty"`
	// BestEffort keeps running when optional backends are unavailable
	// instead of refusing.
	BestEffort bool `json:"best_effort,omitempty"`
	// ExcludeTmp removes /tmp from the writable set.
	ExcludeTmp bool `json:"exclude_tmp,omitempty"`
	// ExcludeTmpdir removes $TMPDIR from the writable set.
	ExcludeTmpdir bool `json:"exclude_tmpdir,omitempty"`
}

// Config represents application configuration
type Config struct {
	Autonomy string        `json:"autonomy"`
	LogLevel string        `json:"log_level"` // debug, info, warn, error, none
	LogPath  string        `json:"-"`
	Sandbox  SandboxConfig `json:"sandbox,omitempty"`

	// TrustedCommands are command prefixes approved permanently for this
	// machine, unlike the in-memory session allowlist.
	TrustedCommands map[string]bool `json:"trusted_commands,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "cmdgate")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "cmdgate")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "cmdgate")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "cmdgate")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "cmdgate")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "cmdgate")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "cmdgate")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "cmdgate")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Autonomy:        "medium",
		LogLevel:        "info",
		LogPath:         filepath.Join(defaultStateDir(), "cmdgate.log"),
		TrustedCommands: make(map[string]bool),
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.Autonomy == "" {
		config.Autonomy = "medium"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), "cmdgate.log")
	}
	if config.TrustedCommands == nil {
		config.TrustedCommands = make(map[string]bool)
	}

	return config, nil
}

// TrustCommand adds a command prefix to the permanently trusted list
func (c *Config) TrustCommand(commandPrefix string) {
	if c.TrustedCommands == nil {
		c.TrustedCommands = make(map[string]bool)
	}
	c.TrustedCommands[commandPrefix] = true
}

// IsCommandTrusted checks if a command prefix is permanently trusted
func (c *Config) IsCommandTrusted(commandPrefix string) bool {
	if c.TrustedCommands == nil {
		return false
	}
	return c.TrustedCommands[commandPrefix]
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
