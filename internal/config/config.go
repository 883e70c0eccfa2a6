package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"yatrt/internal/kernel"
	"yatrt/internal/migration"
	"yatrt/internal/mode"
	"yatrt/internal/task"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "/etc/yat/config.yaml"

// Config holds all yat configuration.
type Config struct {
	// Kernel interface locations
	Kernel KernelConfig `yaml:"kernel"`

	// Launcher defaults
	Launch LaunchConfig `yaml:"launch"`

	// Synchronous release
	Release ReleaseConfig `yaml:"release"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// KernelConfig locates the kernel's interfaces.
type KernelConfig struct {
	CtrlDevice string `yaml:"ctrl_device"`
	StatsFile  string `yaml:"stats_file"`
	DomainsDir string `yaml:"domains_dir"`
}

// LaunchConfig holds defaults for launched tasks. Command-line flags win.
type LaunchConfig struct {
	EnforceBudget bool   `yaml:"enforce_budget"`
	DefaultClass  string `yaml:"default_class"` // be, srt, hrt
}

// ReleaseConfig configures `yat release`.
type ReleaseConfig struct {
	Delay        string `yaml:"delay"`
	PollInterval string `yaml:"poll_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			CtrlDevice: kernel.DefaultControlDevice,
			StatsFile:  mode.DefaultStatsFile,
			DomainsDir: migration.DefaultDomainsDir,
		},
		Launch: LaunchConfig{
			EnforceBudget: true,
			DefaultClass:  "srt",
		},
		Release: ReleaseConfig{
			Delay:        "1s",
			PollInterval: "100ms",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("YAT_CTRL_DEVICE"); v != "" {
		c.Kernel.CtrlDevice = v
	}
	if v := os.Getenv("YAT_STATS_FILE"); v != "" {
		c.Kernel.StatsFile = v
	}
	if v := os.Getenv("YAT_DOMAINS_DIR"); v != "" {
		c.Kernel.DomainsDir = v
	}
	if v := os.Getenv("YAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// GetReleaseDelay returns the release delay as a duration.
func (c *Config) GetReleaseDelay() time.Duration {
	d, err := time.ParseDuration(c.Release.Delay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetPollInterval returns the waiter polling interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Release.PollInterval)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// DefaultClass returns the configured default task class.
func (c *Config) DefaultClass() task.Class {
	cls, err := task.ParseClass(c.Launch.DefaultClass)
	if err != nil {
		return task.ClassSoft
	}
	return cls
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Kernel.CtrlDevice == "" {
		return fmt.Errorf("kernel.ctrl_device must not be empty")
	}
	if c.Kernel.StatsFile == "" {
		return fmt.Errorf("kernel.stats_file must not be empty")
	}
	if _, err := task.ParseClass(c.Launch.DefaultClass); err != nil {
		return fmt.Errorf("launch.default_class: %w", err)
	}
	if d, err := time.ParseDuration(c.Release.Delay); err != nil || d < 0 {
		return fmt.Errorf("invalid release.delay: %q", c.Release.Delay)
	}
	if _, err := time.ParseDuration(c.Release.PollInterval); err != nil {
		return fmt.Errorf("invalid release.poll_interval: %q", c.Release.PollInterval)
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %s (valid: json, console)", c.Logging.Format)
	}
	return nil
}
