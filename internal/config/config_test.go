package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogDir != "" {
		t.Errorf("LogDir = %q, want empty", cfg.LogDir)
	}
	if cfg.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", cfg.Timeout)
	}
	if cfg.ConfigurationFile != "configuration.ini" {
		t.Errorf("ConfigurationFile = %q, want %q", cfg.ConfigurationFile, "configuration.ini")
	}
	if cfg.KeepGoing {
		t.Error("KeepGoing = true, want false")
	}
	if !cfg.Lock {
		t.Error("Lock = false, want true")
	}
	if cfg.Host.PluginPathOption != "-PTOTAL99/pluginPath" {
		t.Errorf("Host.PluginPathOption = %q", cfg.Host.PluginPathOption)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled = true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoadConfigValidFile tests loading a valid YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `log_level: debug
log_dir: /tmp/logs
timeout: 90s
configuration_file: batch.ini
keep_going: true
lock: false
host:
  plugin_path_option: -PHOST/plugins
  extra_args: ["--quiet", "--no-splash"]
  env: ["LANG=C"]
history:
  enabled: true
  db_path: /tmp/history.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LogDir != "/tmp/logs" {
		t.Errorf("LogDir = %q, want /tmp/logs", cfg.LogDir)
	}
	if cfg.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.Timeout)
	}
	if cfg.ConfigurationFile != "batch.ini" {
		t.Errorf("ConfigurationFile = %q, want batch.ini", cfg.ConfigurationFile)
	}
	if !cfg.KeepGoing {
		t.Error("KeepGoing = false, want true")
	}
	if cfg.Lock {
		t.Error("Lock = true, want explicit false to be honoured")
	}
	if cfg.Host.PluginPathOption != "-PHOST/plugins" {
		t.Errorf("Host.PluginPathOption = %q", cfg.Host.PluginPathOption)
	}
	if strings.Join(cfg.Host.ExtraArgs, " ") != "--quiet --no-splash" {
		t.Errorf("Host.ExtraArgs = %v", cfg.Host.ExtraArgs)
	}
	if len(cfg.Host.Env) != 1 || cfg.Host.Env[0] != "LANG=C" {
		t.Errorf("Host.Env = %v", cfg.Host.Env)
	}
	if !cfg.History.Enabled || cfg.History.DBPath != "/tmp/history.db" {
		t.Errorf("History = %+v", cfg.History)
	}
}

// TestLoadConfigPartialFile verifies absent keys keep their defaults
func TestLoadConfigPartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("keep_going: true\nhost:\n  env: [\"A=1\"]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !cfg.KeepGoing {
		t.Error("KeepGoing = false, want true")
	}
	if !cfg.Lock {
		t.Error("Lock should keep its default")
	}
	if cfg.Host.PluginPathOption != "-PTOTAL99/pluginPath" {
		t.Errorf("Host.PluginPathOption should keep its default, got %q", cfg.Host.PluginPathOption)
	}
	if cfg.ConfigurationFile != "configuration.ini" {
		t.Errorf("ConfigurationFile should keep its default, got %q", cfg.ConfigurationFile)
	}
}

// TestLoadConfigMissingFile verifies defaults are returned for a missing file
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LogLevel != "info" || !cfg.Lock {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

// TestLoadConfigErrors verifies malformed files are rejected
func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{name: "bad yaml", content: "log_level: [unclosed", errText: "failed to parse config file"},
		{name: "bad timeout", content: "timeout: forever", errText: "invalid timeout format"},
		{name: "wrong type", content: "lock: maybe", errText: "failed to parse config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := LoadConfig(configPath)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("error = %v, want it to contain %q", err, tt.errText)
			}
		})
	}
}

// TestMergeWithFlags verifies set flags win and unset flags leave config alone
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = "/from/file"
	cfg.KeepGoing = true

	level := "trace"
	timeout := 5 * time.Second
	noLock := false
	history := true
	db := "/tmp/h.db"

	cfg.MergeWithFlags(FlagOverrides{
		LogLevel:       &level,
		Timeout:        &timeout,
		Lock:           &noLock,
		HistoryEnabled: &history,
		HistoryDBPath:  &db,
	})

	if cfg.LogLevel != "trace" {
		t.Errorf("LogLevel = %q, want trace", cfg.LogLevel)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Lock {
		t.Error("Lock = true, want false")
	}
	if !cfg.History.Enabled || cfg.History.DBPath != db {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.LogDir != "/from/file" {
		t.Errorf("LogDir = %q, unset flag should not override", cfg.LogDir)
	}
	if !cfg.KeepGoing {
		t.Error("KeepGoing changed by unset flag")
	}
}

// TestValidate covers invalid configurations
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "uppercase level", mutate: func(c *Config) { c.LogLevel = "DEBUG" }},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "chatty" }, wantErr: "invalid log_level"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: "timeout must be >= 0"},
		{name: "empty configuration file", mutate: func(c *Config) { c.ConfigurationFile = " " }, wantErr: "configuration_file"},
		{name: "empty plugin option", mutate: func(c *Config) { c.Host.PluginPathOption = "" }, wantErr: "plugin_path_option"},
		{name: "bad env", mutate: func(c *Config) { c.Host.Env = []string{"NOVALUE"} }, wantErr: "KEY=VALUE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
