// Package api contains file helpers shared by the versioned configuration
// types.
package api

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// AppName is the directory name used under the user's config directory.
const AppName = "fsradar"

// ProjectConfigFiles are the file names searched for by [FindConfigFile],
// in order of preference.
var ProjectConfigFiles = []string{".fsradar.yaml", ".fsradar.yml", ".fsradar.toml"}

// GetConfigPath returns the path to a configuration file in the user's
// config directory ($XDG_CONFIG_HOME/fsradar, or the platform equivalent).
func GetConfigPath(filename string) string {
	return filepath.Join(xdg.ConfigHome, AppName, filename)
}

// ReadFile reads a regular file from disk.
func ReadFile(path string) ([]byte, error) {
	pathInfo, err := os.Stat(path)
	if pathInfo != nil {
		if err == nil && pathInfo.IsDir() {
			return nil, fmt.Errorf("%s: path is a directory", path)
		}
		if err == nil && !pathInfo.Mode().IsRegular() {
			return nil, fmt.Errorf("%s: unknown file state", path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: Potential file inclusion via variable.
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// FindConfigFile searches for a config file starting from targetPath
// and walking up the directory tree until the filesystem root.
// It checks for all provided fileNames in each directory.
// Returns the path to the config file if found, or empty string if not found.
func FindConfigFile(targetPath string, fileNames []string) (string, error) {
	absPath, err := filepath.Abs(targetPath)
	if err != nil {
		return "", fmt.Errorf("get absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}

	searchDir := absPath
	if !info.IsDir() {
		searchDir = filepath.Dir(absPath)
	}

	for {
		for _, fileName := range fileNames {
			configPath := filepath.Join(searchDir, fileName)

			info, err := os.Stat(configPath)
			if err == nil && info.Mode().IsRegular() {
				return configPath, nil
			}
		}

		parent := filepath.Dir(searchDir)
		if parent == searchDir {
			return "", nil
		}

		searchDir = parent
	}
}
