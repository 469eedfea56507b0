package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PlatformConfigDir returns the conventional config directory of app for
// the running platform.
func PlatformConfigDir(homeDir, app string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, ".config", app)
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, app)
		}
		return filepath.Join(homeDir, ".config", app)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, app)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", app)
	default:
		return filepath.Join(homeDir, "."+app)
	}
}

// RuntimeInfo returns debug information about the current runtime environment
func RuntimeInfo() map[string]string {
	cwd, _ := os.Getwd()
	execDir, _ := GetExecutableDir()
	homeDir, _ := os.UserHomeDir()

	info := map[string]string{
		"executable_dir": execDir,
		"current_dir":    cwd,
		"home_dir":       homeDir,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
	}
	for _, envVar := range []string{"XDG_CONFIG_HOME", "APPDATA", "OLLAMA_HOST", "OPENAI_BASE_URL"} {
		if value := os.Getenv(envVar); value != "" {
			info["env_"+strings.ToLower(envVar)] = value
		}
	}
	return info
}
