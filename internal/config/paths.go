package config

import (
	"os"
	"path/filepath"
)

const appDirName = "odoo-images"

// GetAppDir returns the per-user configuration directory.
// Honors XDG_CONFIG_HOME on Linux and APPDATA on Windows.
func GetAppDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDirName)
}

// GetLogsDir returns the directory holding debug logs.
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// GetRuntimeDir returns the directory for lock and port files.
func GetRuntimeDir() string {
	return filepath.Join(GetAppDir(), "run")
}

// EnsureDirs creates all application directories.
func EnsureDirs() error {
	for _, dir := range []string{GetAppDir(), GetLogsDir(), GetRuntimeDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
