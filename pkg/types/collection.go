package types

import (
	"context"
	"errors"
)

// Collection provides uniform CRUD and query operations over the documents
// of a single collection.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Get retrieves the document with the given ID.
	// Returns ErrNotFound if no document exists with that ID.
	Get(ctx context.Context, id string) (Document, error)

	// Find returns all documents matching the filter, in insertion order
	// unless opts.OrderBy is set. An empty filter matches every document.
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error)

	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)

	// Insert stores a new document. When the document has no _id a UUID v7 is
	// generated. Returns the ID used.
	// Returns ErrDuplicateID if a document with that ID already exists.
	Insert(ctx context.Context, doc Document) (string, error)

	// Replace overwrites the document with the given ID.
	// Returns ErrNotFound if no document exists with that ID.
	Replace(ctx context.Context, id string, doc Document) error

	// Delete removes the document with the given ID.
	// Returns ErrNotFound if no document exists with that ID.
	Delete(ctx context.Context, id string) error
}

// Document operation errors.
var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidID       = errors.New("invalid document ID")
	ErrDuplicateID     = errors.New("duplicate document ID")
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidFilter   = errors.New("invalid filter value type")
	ErrInvalidWriteOp  = errors.New("invalid write operation")
)
