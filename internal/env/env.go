package env

import (
	"os"
	"path/filepath"
)

// WorkDir returns the workspace root, <UserCacheDir>/.llinstall.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".llinstall"), nil
}

// SourcesDir returns the directory fetched sources are unpacked into.
// It creates the directory with 0700 permissions if it doesn't exist.
func SourcesDir() (string, error) {
	workDir, err := WorkDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(workDir, "sources")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
