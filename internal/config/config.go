// Package config resolves the workspace data directory and per-vendor
// settings from explicit values and the environment — no file format is
// parsed here, that's an explicit non-goal (§6, §1.3).
package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// workspacePathEnv is the override spec.md §6 names.
const workspacePathEnv = "AGTRACE_PATH"

// VendorSettings is the per-vendor table discovery and tokenmodel both
// read from.
type VendorSettings struct {
	Enabled               bool
	LogRoot               string
	ContextWindowOverride int // 0 means "no override"
}

// Config is the resolved, in-memory configuration for one process.
// There is no corresponding file format — callers build this from
// explicit values or environment defaults.
type Config struct {
	WorkspacePath string
	Vendors       map[string]VendorSettings
}

// ResolveWorkspacePath implements spec.md §6's four-level priority
// chain: an explicit path wins outright, then AGTRACE_PATH, then the
// platform's conventional data directory, then $HOME/.agtrace.
func ResolveWorkspacePath(explicit string) (string, error) {
	if explicit != "" {
		return expandTilde(explicit), nil
	}
	if envPath := os.Getenv(workspacePathEnv); envPath != "" {
		return expandTilde(envPath), nil
	}
	if dataDir, ok := systemDataDir(); ok {
		return filepath.Join(dataDir, "agtrace"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errors.New("config: could not determine workspace path: no AGTRACE_PATH, system data directory, or home directory found")
	}
	return filepath.Join(home, ".agtrace"), nil
}

// expandTilde expands a leading "~" or "~/..." against the user's home
// directory; any other path is returned unchanged.
func expandTilde(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// systemDataDir mirrors the platform conventions a "recommended data
// directory" lookup follows: XDG_DATA_HOME (or ~/.local/share) on Linux,
// Application Support on macOS, AppData\Roaming on Windows.
func systemDataDir() (string, bool) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("AppData"); dir != "" {
			return dir, true
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, "Library", "Application Support"), true
		}
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return dir, true
		}
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, ".local", "share"), true
		}
	}
	return "", false
}

// DefaultVendors seeds the three known vendors disabled with no log
// root, leaving it to the caller (or an explicit VendorSettings
// override) to enable and point them at real directories.
func DefaultVendors() map[string]VendorSettings {
	return map[string]VendorSettings{
		"claude": {},
		"codex":  {},
		"gemini": {},
	}
}
