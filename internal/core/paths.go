package core

import (
	"os"
	"path/filepath"
)

type Paths struct {
	HomeDir       string
	DataDir       string
	LogFile       string
	SessionDBFile string
	SettingsFile  string
}

var defaultPaths *Paths

func ensureDefaultPaths() {
	if defaultPaths == nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			panic(err)
		}

		dataDir := filepath.Join(homeDir, ".codex-bridge")
		if override := os.Getenv("CODEX_BRIDGE_HOME"); override != "" {
			dataDir = override
		}

		defaultPaths = &Paths{
			HomeDir:       homeDir,
			DataDir:       dataDir,
			LogFile:       filepath.Join(dataDir, "codex-bridge.log"),
			SessionDBFile: filepath.Join(dataDir, "sessions.db"),
			SettingsFile:  filepath.Join(dataDir, "codex.yaml"),
		}

		err = os.MkdirAll(defaultPaths.DataDir, 0755)
		if err != nil {
			panic(err)
		}
	}
}

func HomeDir() string {
	ensureDefaultPaths()
	return defaultPaths.HomeDir
}

func DataDir() string {
	ensureDefaultPaths()
	return defaultPaths.DataDir
}

func LogFile() string {
	ensureDefaultPaths()
	return defaultPaths.LogFile
}

// SessionDBFile is the sqlite database holding persisted session ids.
func SessionDBFile() string {
	ensureDefaultPaths()
	return defaultPaths.SessionDBFile
}

// UserSettingsFile is the user-level codex.yaml.
func UserSettingsFile() string {
	ensureDefaultPaths()
	return defaultPaths.SettingsFile
}

// ProjectSettingsFile is the project-level codex.yaml for the given directory.
func ProjectSettingsFile(dir string) string {
	return filepath.Join(dir, ".codex", "codex.yaml")
}

// ResetPaths clears the cached paths, forcing them to be reinitialized.
// This is primarily used for testing purposes.
func ResetPaths() {
	defaultPaths = nil
}
