// This file implements the collection accessor for the SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Compile-time interface check: collection must implement Collection.
var _ types.Collection = (*collection)(nil)

// collection implements types.Collection for one named collection. Reads
// take the backend read lock; writes go through Backend.BulkWrite.
type collection struct {
	name    string
	backend *Backend
}

// Name returns the collection name.
func (c *collection) Name() string { return c.name }

// Get retrieves a document by ID.
func (c *collection) Get(ctx context.Context, id string) (types.Document, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	if !c.backend.attached {
		return nil, types.ErrStoreDetached
	}
	var body string
	err := c.backend.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND doc_id = ?",
		c.name, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting %s/%s: %w", c.name, id, err)
	}
	return decodeBody(body)
}

// Find queries documents matching the filter.
func (c *collection) Find(ctx context.Context, filter types.Filter, opts types.FindOptions) ([]types.Document, error) {
	where, args, err := buildWhere(c.name, filter)
	if err != nil {
		return nil, err
	}
	order, err := buildOrder(opts)
	if err != nil {
		return nil, err
	}

	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	if !c.backend.attached {
		return nil, types.ErrStoreDetached
	}
	rows, err := c.backend.db.QueryContext(ctx, "SELECT body FROM documents"+where+order, args...)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", c.name, err)
	}
	defer rows.Close()

	results := []types.Document{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", c.name, err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", c.name, err)
	}
	return results, nil
}

// Count returns the number of documents matching the filter.
func (c *collection) Count(ctx context.Context, filter types.Filter) (int, error) {
	where, args, err := buildWhere(c.name, filter)
	if err != nil {
		return 0, err
	}

	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	if !c.backend.attached {
		return 0, types.ErrStoreDetached
	}
	var n int
	if err := c.backend.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", c.name, err)
	}
	return n, nil
}

// Insert stores a new document, generating a UUID v7 when it has no _id.
func (c *collection) Insert(ctx context.Context, doc types.Document) (string, error) {
	if doc == nil {
		return "", types.ErrInvalidDocument
	}
	id := doc.ID()
	if id == "" {
		if _, present := doc[types.IDField]; present {
			return "", types.ErrInvalidID
		}
		id = types.NewID()
	}
	err := c.backend.BulkWrite(ctx, []types.WriteOp{{
		Kind: types.OpInsert, Collection: c.name, ID: id, Doc: doc,
	}})
	if err != nil {
		return "", unwrapOp(err)
	}
	doc[types.IDField] = id
	return id, nil
}

// Replace overwrites an existing document.
func (c *collection) Replace(ctx context.Context, id string, doc types.Document) error {
	if id == "" {
		return types.ErrInvalidID
	}
	err := c.backend.BulkWrite(ctx, []types.WriteOp{{
		Kind: types.OpReplace, Collection: c.name, ID: id, Doc: doc,
	}})
	return unwrapOp(err)
}

// Delete removes a document.
func (c *collection) Delete(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	err := c.backend.BulkWrite(ctx, []types.WriteOp{{
		Kind: types.OpDelete, Collection: c.name, ID: id,
	}})
	return unwrapOp(err)
}

// unwrapOp maps single-op BulkWrite failures back to the bare sentinel so
// that callers comparing with == still match the common cases.
func unwrapOp(err error) error {
	for _, sentinel := range []error{
		types.ErrNotFound,
		types.ErrDuplicateID,
		types.ErrStoreDetached,
		types.ErrInvalidDocument,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

// decodeBody parses a stored document body.
func decodeBody(body string) (types.Document, error) {
	var doc types.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDocument, err)
	}
	return doc, nil
}
