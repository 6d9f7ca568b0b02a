// Package config provides configuration management for blobxfer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDirectory returns the directory holding blobxfer.conf and the resume state.
//   - Windows: %APPDATA%\blobxfer
//   - Unix: ~/.config/blobxfer
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "blobxfer"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "blobxfer"), nil
}

// DefaultConfigPath returns the default path for the blobxfer.conf file.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "blobxfer.conf"), nil
}

// DefaultStatePath returns the default path of the download resume database.
func DefaultStatePath() string {
	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), "blobxfer-state.db")
	}
	return filepath.Join(dir, "state.db")
}
