package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Compile-time interface check: Backend must implement Store.
var _ types.Store = (*Backend)(nil)

// Backend implements the Store interface on a Postgres database. Several
// logical databases can share one Postgres database; Config.DBName scopes
// every query.
type Backend struct {
	mu          sync.RWMutex
	attached    bool
	config      types.Config
	db          *sql.DB
	collections map[string]*collection
}

// NewBackend creates a new Postgres backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{
		collections: make(map[string]*collection),
	}
}

// Attach opens the connection pool, pings the server and creates the
// document table when it is missing.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	if config.Backend != types.BackendPostgres {
		return fmt.Errorf("%w: postgres backend cannot attach %q", types.ErrBackendUnknown, config.Backend)
	}

	db, err := sql.Open(driverName, config.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true
	return nil
}

// Detach closes the connection pool. Idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.collections = make(map[string]*collection)
	err := b.db.Close()
	b.db = nil
	return err
}

// Collection returns the accessor for the named collection.
func (b *Backend) Collection(name string) (types.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	if !types.ValidCollectionName(name) {
		return nil, fmt.Errorf("%w: %q", types.ErrCollectionName, name)
	}
	c, ok := b.collections[name]
	if !ok {
		c = &collection{name: name, backend: b}
		b.collections[name] = c
	}
	return c, nil
}

// Collections lists collections of the attached database holding at least
// one document.
func (b *Backend) Collections(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	rows, err := b.db.QueryContext(ctx,
		"SELECT DISTINCT collection FROM shelf_documents WHERE db_name = $1 ORDER BY collection",
		b.config.Database())
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// BulkWrite applies ops in one transaction.
func (b *Backend) BulkWrite(ctx context.Context, ops []types.WriteOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrStoreDetached
	}
	if len(ops) == 0 {
		return nil
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dbName := b.config.Database()
	for i, op := range ops {
		if err := applyOp(ctx, tx, dbName, op); err != nil {
			return fmt.Errorf("op %d (%s %s/%s): %w", i, op.Kind, op.Collection, op.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// applyOp executes a single validated write inside tx.
func applyOp(ctx context.Context, tx *sql.Tx, dbName string, op types.WriteOp) error {
	switch op.Kind {
	case types.OpInsert:
		body, err := encodeBody(op.ID, op.Doc)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO shelf_documents (db_name, collection, doc_id, body)
			VALUES ($1, $2, $3, $4::jsonb)
			ON CONFLICT (db_name, collection, doc_id) DO NOTHING`,
			dbName, op.Collection, op.ID, body)
		if err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("reading rows affected: %w", err)
		} else if n == 0 {
			return types.ErrDuplicateID
		}
		return nil

	case types.OpReplace:
		body, err := encodeBody(op.ID, op.Doc)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE shelf_documents SET body = $1::jsonb WHERE db_name = $2 AND collection = $3 AND doc_id = $4",
			body, dbName, op.Collection, op.ID)
		if err != nil {
			return fmt.Errorf("replacing document: %w", err)
		}
		return requireRow(res)

	case types.OpDelete:
		res, err := tx.ExecContext(ctx,
			"DELETE FROM shelf_documents WHERE db_name = $1 AND collection = $2 AND doc_id = $3",
			dbName, op.Collection, op.ID)
		if err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		return requireRow(res)
	}
	return types.ErrInvalidWriteOp
}

// requireRow maps a write that touched no row to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// encodeBody serializes doc with its _id forced to id.
func encodeBody(id string, doc types.Document) (string, error) {
	body := make(types.Document, len(doc)+1)
	for k, v := range doc {
		body[k] = v
	}
	body[types.IDField] = id
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidDocument, err)
	}
	return string(data), nil
}
