package journal

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envHome    = "UNIHEALTH_STATE_HOME" // override for tests
	dirName    = ".unihealth-portal"    // default under $HOME
	dbFilename = "pending.db"
)

// DataDir returns the directory where local state is stored, creating it
// with 0700 permissions if needed.
func DataDir() (string, error) {
	if custom := os.Getenv(envHome); custom != "" {
		if err := os.MkdirAll(custom, 0o700); err != nil {
			return "", err
		}
		return custom, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user home: %w", err)
	}
	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultPath returns the default journal database location.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFilename), nil
}
