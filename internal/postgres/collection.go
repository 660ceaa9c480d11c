package postgres

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

type collection struct {
	name    string
	backend *Backend
}

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
	var body []byte
	err := c.backend.db.QueryRowContext(ctx,
		"SELECT body FROM shelf_documents WHERE db_name = $1 AND collection = $2 AND doc_id = $3",
		c.backend.config.Database(), c.name, id).Scan(&body)
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
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	if !c.backend.attached {
		return nil, types.ErrStoreDetached
	}
	var q queryBuilder
	where, err := q.where(c.backend.config.Database(), c.name, filter)
	if err != nil {
		return nil, err
	}
	orderBy, err := order(opts)
	if err != nil {
		return nil, err
	}
	rows, err := c.backend.db.QueryContext(ctx, "SELECT body FROM shelf_documents"+where+orderBy, q.args...)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()

	results := []types.Document{}
	for rows.Next() {
		var body []byte
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
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	if !c.backend.attached {
		return 0, types.ErrStoreDetached
	}
	var q queryBuilder
	where, err := q.where(c.backend.config.Database(), c.name, filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := c.backend.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM shelf_documents"+where, q.args...).Scan(&n); err != nil {
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
	return unwrapOp(c.backend.BulkWrite(ctx, []types.WriteOp{{
		Kind: types.OpReplace, Collection: c.name, ID: id, Doc: doc,
	}}))
}

// Delete removes a document.
func (c *collection) Delete(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	return unwrapOp(c.backend.BulkWrite(ctx, []types.WriteOp{{
		Kind: types.OpDelete, Collection: c.name, ID: id,
	}}))
}

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

func decodeBody(body []byte) (types.Document, error) {
	var doc types.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDocument, err)
	}
	return doc, nil
}
