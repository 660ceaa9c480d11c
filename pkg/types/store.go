package types

import (
	"context"
	"errors"
)

// Store defines the interface for backend-agnostic document storage.
// Callers attach to a backend, access collections by name, and detach when done.
type Store interface {
	// Attach connects the Store to the backend described by config.
	// Returns ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, operations return ErrStoreDetached.
	Detach() error

	// Collection returns the accessor for the named collection. Collections
	// are created implicitly on first write.
	// Returns ErrCollectionName if name is not a valid collection name.
	Collection(name string) (Collection, error)

	// Collections lists the names of collections holding at least one
	// document, sorted by name.
	Collections(ctx context.Context) ([]string, error)

	// BulkWrite applies ops atomically: either every op is applied or none is.
	BulkWrite(ctx context.Context, ops []WriteOp) error
}

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
	ErrCollectionName  = errors.New("invalid collection name")
)
