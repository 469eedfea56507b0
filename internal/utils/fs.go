package utils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// DirCheckResult reports whether a candidate config dir can be used.
type DirCheckResult struct {
	Exists   bool
	Writable bool
	Error    error
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates dirPath and its parents.
func EnsureDir(dirPath string) error {
	return os.MkdirAll(dirPath, 0o755)
}

// SaveTOMLFile encodes data and replaces filePath with it in one rename, so a
// watcher on the file never observes a half-written document.
func SaveTOMLFile(data any, filePath string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(filePath), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+filepath.Base(filePath)+".*")
	if err != nil {
		log.Errorf("Failed to create file: %v", err)
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filePath)
}

// GetAbsolutePath returns configPath made absolute, or "unknown" when empty.
func GetAbsolutePath(configPath string) string {
	if configPath == "" {
		return "unknown"
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		return abs
	}
	return configPath
}

// GetExecutableDir returns the directory holding the running binary. It is
// the last config dir candidate before built-in defaults.
func GetExecutableDir() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(execPath), nil
}

// CheckDirStatus creates dirPath if needed and probes it for writes.
func CheckDirStatus(dirPath string) DirCheckResult {
	if err := EnsureDir(dirPath); err != nil {
		log.Warnf("Cannot create directory %s: %v", dirPath, err)
		return DirCheckResult{Error: err}
	}
	probe, err := os.CreateTemp(dirPath, ".probe-*")
	if err != nil {
		log.Warnf("Cannot write to directory %s: %v", dirPath, err)
		return DirCheckResult{Exists: true, Error: err}
	}
	probe.Close()
	os.Remove(probe.Name())
	return DirCheckResult{Exists: true, Writable: true}
}
