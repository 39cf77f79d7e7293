package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the directory holding plugintest state.
const HomeEnv = "PLUGINTEST_HOME"

// HomeDirName is the state directory created below the current directory
// when HomeEnv is not set.
const HomeDirName = ".plugintest"

// GetHome returns the plugintest state directory.
// Priority order:
//  1. PLUGINTEST_HOME environment variable (if set)
//  2. .plugintest in the current working directory
//
// The directory is not created.
func GetHome() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return home, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	return filepath.Join(cwd, HomeDirName), nil
}

// GetConfigPath returns the default configuration file path.
func GetConfigPath() (string, error) {
	home, err := GetHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.yaml"), nil
}

// GetHistoryDBPath returns the default run history database path.
// Always returns: $PLUGINTEST_HOME/history.db
func GetHistoryDBPath() (string, error) {
	home, err := GetHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "history.db"), nil
}
