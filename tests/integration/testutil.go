// Package integration runs the shelf binary against stores written through
// the ORM.
package integration

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var (
	// shelfBin is the path to the built shelf binary.
	shelfBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot walks up from the working directory to the directory
// holding go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// buildShelf compiles ./cmd/shelf into dir.
func buildShelf(dir string) (string, error) {
	root, err := FindProjectRoot()
	if err != nil {
		return "", err
	}
	bin := filepath.Join(dir, "shelf")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/shelf")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", &BuildError{Err: err, Output: string(out)}
	}
	return bin, nil
}

// TestEnv is an isolated config and data directory for one test.
type TestEnv struct {
	t         *testing.T
	ConfigDir string
	DataDir   string
}

// NewTestEnv creates the directories and a config.yaml naming dbName.
func NewTestEnv(t *testing.T, dbName string) *TestEnv {
	t.Helper()
	if buildErr != nil {
		t.Fatalf("failed to build shelf: %v", buildErr)
	}
	if shelfBin == "" {
		t.Fatal("shelf binary not built")
	}

	root := t.TempDir()
	env := &TestEnv{
		t:         t,
		ConfigDir: filepath.Join(root, ".shelf"),
		DataDir:   filepath.Join(root, ".shelf-db"),
	}
	if err := os.MkdirAll(env.ConfigDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	config := "backend: sqlite\ndata_dir: " + env.DataDir + "\ndb_name: " + dbName + "\n"
	if err := os.WriteFile(filepath.Join(env.ConfigDir, "config.yaml"), []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

// URI returns the client URL of the environment's data directory.
func (e *TestEnv) URI() string {
	return "sqlite://" + e.DataDir
}

// CmdResult holds the result of a shelf command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes shelf with the environment's directories.
func (e *TestEnv) Run(args ...string) CmdResult {
	e.t.Helper()
	cmd := exec.Command(shelfBin, append([]string{"--config-dir", e.ConfigDir}, args...)...)
	cmd.Env = append(os.Environ(), "SHELF_DB_NAME=", "SHELF_BACKEND=", "SHELF_DSN=")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.t.Fatalf("run shelf: %v", err)
		}
		code = exitErr.ExitCode()
	}
	return CmdResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}
}

// MustRun executes shelf and fails the test on a non-zero exit.
func (e *TestEnv) MustRun(args ...string) CmdResult {
	e.t.Helper()
	r := e.Run(args...)
	if r.ExitCode != 0 {
		e.t.Fatalf("shelf %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, r.ExitCode, r.Stdout, r.Stderr)
	}
	return r
}

// ParseJSON parses JSON output into the target type.
func ParseJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var out T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("parse JSON %q: %v", s, err)
	}
	return out
}
