package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataDir resolves the directory holding the event cache and its key.
type DataDir struct {
	homeDir string
}

// NewDataDir creates a resolver using the current user's home directory.
func NewDataDir() *DataDir {
	home, _ := os.UserHomeDir()
	return &DataDir{homeDir: home}
}

// NewDataDirWithHome creates a resolver with a custom home (for testing).
func NewDataDirWithHome(home string) *DataDir {
	return &DataDir{homeDir: home}
}

// ExpandHome expands ~ to the user's home directory.
func (d *DataDir) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(d.homeDir, path[2:])
	}
	if path == "~" {
		return d.homeDir
	}
	return path
}

// Ensure expands path and creates it with owner-only permissions.
func (d *DataDir) Ensure(path string) (string, error) {
	expanded := d.ExpandHome(path)
	if expanded == "" {
		return "", fmt.Errorf("data directory not set")
	}
	if err := os.MkdirAll(expanded, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return expanded, nil
}
