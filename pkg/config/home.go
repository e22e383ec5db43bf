package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "XPATH_HEALER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the xpath-healer home directory.
//
// Resolution order:
//  1. $XPATH_HEALER_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetDataDir returns <home>/data.
func GetDataDir() string {
	return filepath.Join(GetHome(), "data")
}

// GetStorePath returns the default snapshot store, <home>/data/snapshots.db.
func GetStorePath() string {
	return filepath.Join(GetDataDir(), "snapshots.db")
}

func resolveHome() string {
	// 1. Environment variable
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// 2. Binary-relative: if binary is at <home>/bin/xpath-healer, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	// 3. Current working directory
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
