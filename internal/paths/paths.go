package paths

import (
	"os"
	"path/filepath"
)

// DataDir returns the wakelak data directory (~/.wakelak), creating it if
// needed. The SQLite database and the default config file live here.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".wakelak")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
