// Package paths resolves the configuration and data directories used by the
// shelf command.
//
// A project keeps its configuration in a .shelf directory, found by walking
// up from the working directory the way git finds .git, and its data next to
// it in .shelf-db. Without a project directory the per-user platform
// directories are used.
package paths

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// Project directory names.
const (
	DefaultConfigDirName = ".shelf"
	DefaultDataDirName   = ".shelf-db"
	ConfigFileName       = "config.yaml"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "SHELF_CONFIG_DIR"
	EnvDataDir   = "SHELF_DATA_DIR"
)

// platformDir holds platform lookups that tests override.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// DefaultConfigDir returns the per-user configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/shelf (fallback ~/.config/shelf)
// Others:  os.UserConfigDir()/shelf
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shelf"), nil
}

// DefaultDataDir returns the per-user data directory.
//
// Linux:   $XDG_DATA_HOME/shelf (fallback ~/.local/share/shelf)
// Others:  os.UserConfigDir()/shelf/data
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shelf", "data"), nil
}

func xdgDir(env, fallback string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, "shelf"), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, "shelf"), nil
}

// FindProjectDir walks up from start looking for a .shelf directory and
// returns it. ok is false when no ancestor has one.
func FindProjectDir(start string) (dir string, ok bool) {
	for cur := filepath.Clean(start); ; {
		candidate := filepath.Join(cur, DefaultConfigDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		cur = parent
	}
}

// ResolveConfigDir returns the configuration directory with precedence
// flag > SHELF_CONFIG_DIR > nearest project .shelf > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", err
	}
	if dir, ok := FindProjectDir(cwd); ok {
		return dir, nil
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory with precedence
// flag > config.yaml data_dir > SHELF_DATA_DIR > default. A relative
// data_dir is taken relative to configDir. The default is .shelf-db beside
// a project .shelf directory, or DefaultDataDir otherwise.
func ResolveDataDir(flag, configValue, configDir string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configValue != "" {
		if !filepath.IsAbs(configValue) && configDir != "" {
			return filepath.Join(configDir, configValue), nil
		}
		return filepath.Abs(configValue)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	if filepath.Base(configDir) == DefaultConfigDirName {
		return filepath.Join(filepath.Dir(configDir), DefaultDataDirName), nil
	}
	return DefaultDataDir()
}

// ConfigFile returns the path of config.yaml inside configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}

// ConfigExists reports whether configDir holds a config.yaml.
func ConfigExists(configDir string) (bool, error) {
	_, err := os.Stat(ConfigFile(configDir))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
