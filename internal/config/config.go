// Package config loads harness settings from .plugintest/config.yaml and
// merges them with command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
	"gopkg.in/yaml.v3"
)

// HostConfig controls how the host application is launched
type HostConfig struct {
	// PluginPathOption is the option prefix carrying the plugin build directory
	PluginPathOption string `yaml:"plugin_path_option"`

	// ExtraArgs are appended after the fixed host arguments
	ExtraArgs []string `yaml:"extra_args"`

	// Env holds KEY=VALUE entries added to the host environment
	Env []string `yaml:"env"`
}

// HistoryConfig represents run history configuration
type HistoryConfig struct {
	// Enabled records every run in the history database
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the history database (empty = $PLUGINTEST_HOME/history.db)
	DBPath string `yaml:"db_path"`
}

// Config represents plugintest configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written (empty = no file log)
	LogDir string `yaml:"log_dir"`

	// Timeout is the maximum host run time (0 = no limit)
	Timeout time.Duration `yaml:"timeout"`

	// ConfigurationFile is the host configuration file name inside the test directory
	ConfigurationFile string `yaml:"configuration_file"`

	// KeepGoing verifies every file instead of stopping at the first mismatch
	KeepGoing bool `yaml:"keep_going"`

	// Lock takes an exclusive lock on the test directory for the run
	Lock bool `yaml:"lock"`

	// Host contains host launch configuration
	Host HostConfig `yaml:"host"`

	// History contains run history configuration
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		LogDir:            "",
		Timeout:           0,
		ConfigurationFile: models.DefaultConfigurationFile,
		KeepGoing:         false,
		Lock:              true,
		Host: HostConfig{
			PluginPathOption: host.DefaultPluginPathOption,
		},
		History: HistoryConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in YAML
	type yamlConfig struct {
		LogLevel          string        `yaml:"log_level"`
		LogDir            string        `yaml:"log_dir"`
		Timeout           string        `yaml:"timeout"`
		ConfigurationFile string        `yaml:"configuration_file"`
		KeepGoing         bool          `yaml:"keep_going"`
		Lock              bool          `yaml:"lock"`
		Host              HostConfig    `yaml:"host"`
		History           HistoryConfig `yaml:"history"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Used to tell an explicit false or empty value from an absent key
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.Timeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", yamlCfg.Timeout, err)
		}
		cfg.Timeout = timeout
	}
	if _, exists := rawMap["configuration_file"]; exists {
		cfg.ConfigurationFile = yamlCfg.ConfigurationFile
	}
	if _, exists := rawMap["keep_going"]; exists {
		cfg.KeepGoing = yamlCfg.KeepGoing
	}
	if _, exists := rawMap["lock"]; exists {
		cfg.Lock = yamlCfg.Lock
	}

	if hostSection, ok := rawMap["host"].(map[string]interface{}); ok {
		if _, exists := hostSection["plugin_path_option"]; exists {
			cfg.Host.PluginPathOption = yamlCfg.Host.PluginPathOption
		}
		if _, exists := hostSection["extra_args"]; exists {
			cfg.Host.ExtraArgs = yamlCfg.Host.ExtraArgs
		}
		if _, exists := hostSection["env"]; exists {
			cfg.Host.Env = yamlCfg.Host.Env
		}
	}

	if historySection, ok := rawMap["history"].(map[string]interface{}); ok {
		if _, exists := historySection["enabled"]; exists {
			cfg.History.Enabled = yamlCfg.History.Enabled
		}
		if _, exists := historySection["db_path"]; exists {
			cfg.History.DBPath = yamlCfg.History.DBPath
		}
	}

	return cfg, nil
}

// FlagOverrides holds command-line values that take precedence over the
// configuration file. Nil fields were not set on the command line.
type FlagOverrides struct {
	LogLevel          *string
	LogDir            *string
	Timeout           *time.Duration
	ConfigurationFile *string
	KeepGoing         *bool
	Lock              *bool
	HistoryEnabled    *bool
	HistoryDBPath     *string
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(flags FlagOverrides) {
	if flags.LogLevel != nil {
		c.LogLevel = *flags.LogLevel
	}
	if flags.LogDir != nil {
		c.LogDir = *flags.LogDir
	}
	if flags.Timeout != nil {
		c.Timeout = *flags.Timeout
	}
	if flags.ConfigurationFile != nil {
		c.ConfigurationFile = *flags.ConfigurationFile
	}
	if flags.KeepGoing != nil {
		c.KeepGoing = *flags.KeepGoing
	}
	if flags.Lock != nil {
		c.Lock = *flags.Lock
	}
	if flags.HistoryEnabled != nil {
		c.History.Enabled = *flags.HistoryEnabled
	}
	if flags.HistoryDBPath != nil {
		c.History.DBPath = *flags.HistoryDBPath
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	// Timeout can be 0 (no timeout) or positive, negative is invalid
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}

	if strings.TrimSpace(c.ConfigurationFile) == "" {
		return fmt.Errorf("configuration_file cannot be empty")
	}

	if c.Host.PluginPathOption == "" {
		return fmt.Errorf("host.plugin_path_option cannot be empty")
	}
	for _, kv := range c.Host.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("host.env entry %q must have the form KEY=VALUE", kv)
		}
	}

	return nil
}
