// Package memserver runs throwaway document-store instances for tests.
// Each Server owns a private data directory served by the SQLite backend;
// Stop removes it.
package memserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// ErrStopped is returned by operations on a stopped server.
var ErrStopped = errors.New("memserver: server stopped")

// Server is an ephemeral database instance.
type Server struct {
	mu       sync.Mutex
	dir      string
	owned    bool
	keepData bool
	running  bool
}

// Option configures Create.
type Option func(*Server)

// WithDir serves the instance from dir instead of a fresh temporary
// directory. The directory is created if missing.
func WithDir(dir string) Option {
	return func(s *Server) { s.dir = dir }
}

// WithKeepData leaves the data directory in place when the server stops.
func WithKeepData() Option {
	return func(s *Server) { s.keepData = true }
}

// Create starts a new instance.
func Create(ctx context.Context, opts ...Option) (*Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.dir == "" {
		dir, err := os.MkdirTemp("", "shelf-memserver-")
		if err != nil {
			return nil, fmt.Errorf("creating instance directory: %w", err)
		}
		s.dir = dir
		s.owned = true
	} else {
		abs, err := filepath.Abs(s.dir)
		if err != nil {
			return nil, fmt.Errorf("resolving instance directory: %w", err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("creating instance directory: %w", err)
		}
		s.dir = abs
	}
	s.running = true
	return s, nil
}

// URI returns the client URL of the instance.
func (s *Server) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "sqlite://" + filepath.ToSlash(s.dir)
}

// Dir returns the instance data directory.
func (s *Server) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Config returns a store configuration for database dbName on the instance.
func (s *Server) Config(dbName string) (types.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return types.Config{}, ErrStopped
	}
	return types.Config{Backend: types.BackendSQLite, DataDir: s.dir, DBName: dbName}, nil
}

// Running reports whether the server has not been stopped.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop shuts the instance down and removes its data unless WithKeepData was
// given. Caller-supplied directories are emptied, not removed. Stop is
// idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if s.keepData {
		return nil
	}
	if s.owned {
		return os.RemoveAll(s.dir)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
