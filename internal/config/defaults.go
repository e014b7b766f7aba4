package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultModelsPath returns the default cache directory for downloaded
// checkpoints.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "tsexport", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "tsexport", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "tsexport", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "tsexport", "models")
		}
		return filepath.Join(home, ".cache", "tsexport", "models")
	}
}
