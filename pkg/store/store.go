// Package store opens document stores. It selects the backend named by a
// Config while keeping the implementations internal.
package store

import (
	"fmt"

	"github.com/mesh-intelligence/shelf/internal/postgres"
	"github.com/mesh-intelligence/shelf/internal/sqlite"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// New returns an unattached store for the named backend.
func New(backend string) (types.Store, error) {
	switch backend {
	case types.BackendSQLite:
		return sqlite.NewBackend(), nil
	case types.BackendPostgres:
		return postgres.NewBackend(), nil
	case "":
		return nil, types.ErrBackendEmpty
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, backend)
	}
}

// Open creates the backend named by cfg and attaches it.
//
// Example:
//
//	s, err := store.Open(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".shelf-db",
//	    DBName:  "garden",
//	})
//	defer s.Detach()
func Open(cfg types.Config) (types.Store, error) {
	s, err := New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attaching %s store: %w", cfg.Backend, err)
	}
	return s, nil
}

// OpenURL parses a client URL such as sqlite:///var/lib/shelf and opens the
// named database on it.
func OpenURL(rawURL, dbName string) (types.Store, error) {
	cfg, err := types.ParseClientURL(rawURL)
	if err != nil {
		return nil, err
	}
	cfg.DBName = dbName
	return Open(cfg)
}
