package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Compile-time interface check: Backend must implement Store.
var _ types.Store = (*Backend)(nil)

// Backend implements the Store interface using SQLite as the query engine
// and JSONL files as the source of truth. Only one attached Backend should
// use a database directory at a time.
type Backend struct {
	mu          sync.RWMutex
	attached    bool
	config      types.Config
	dir         string // DataDir/DBName
	db          *sql.DB
	collections map[string]*collection
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{
		collections: make(map[string]*collection),
	}
}

// Attach initializes the backend with the given configuration.
// Creates DataDir/DBName if it does not exist, rebuilds the SQLite database
// from the JSONL files found there.
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
	if config.Backend != types.BackendSQLite {
		return fmt.Errorf("%w: sqlite backend cannot attach %q", types.ErrBackendUnknown, config.Backend)
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	dir := filepath.Join(dataDir, config.Database())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	db, err := openCache(dir)
	if err != nil {
		return err
	}

	b.db = db
	b.dir = dir
	b.config = config
	b.attached = true
	return nil
}

// openCache creates a fresh SQLite database in dir and loads every JSONL
// file found there. The database file is a cache of the JSONL files.
func openCache(dir string) (*sql.DB, error) {
	dbPath := filepath.Join(dir, dbFileName)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := loadAllJSONL(db, dir); err != nil {
		db.Close()
		return nil, fmt.Errorf("load JSONL: %w", err)
	}
	return db, nil
}

// Detach releases all resources held by the backend. After Detach, all
// operations return ErrStoreDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.collections = make(map[string]*collection)
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		if err != nil {
			return err
		}
	}
	return nil
}

// Dir returns the database directory, or "" when detached.
func (b *Backend) Dir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dir
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

// Collections lists collections holding at least one document.
func (b *Backend) Collections(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	rows, err := b.db.QueryContext(ctx,
		"SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

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

// BulkWrite applies ops in a single SQLite transaction. The JSONL file of
// every affected collection is staged to a temp file before the commit and
// renamed into place after it. If a rename fails, files already renamed are
// restored to their previous contents and the cache is rebuilt from disk, so
// a failed batch leaves no trace in either.
func (b *Backend) BulkWrite(ctx context.Context, ops []types.WriteOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrStoreDetached
	}
	if len(ops) == 0 {
		return nil
	}
	affected := make(map[string]bool)
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
		affected[op.Collection] = true
	}
	names := make([]string, 0, len(affected))
	for name := range affected {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	before := make(map[string][]json.RawMessage, len(names))
	for _, name := range names {
		records, err := collectionBodies(ctx, tx, name)
		if err != nil {
			return err
		}
		before[name] = records
	}

	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return fmt.Errorf("op %d (%s %s/%s): %w", i, op.Kind, op.Collection, op.ID, err)
		}
	}

	staged := make([]string, 0, len(names))
	discard := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}
	for _, name := range names {
		records, err := collectionBodies(ctx, tx, name)
		if err != nil {
			discard()
			return err
		}
		tmp, err := stageJSONL(collectionPath(b.dir, name), records)
		if err != nil {
			discard()
			return fmt.Errorf("persisting %s%s: %w", name, jsonlExt, err)
		}
		staged = append(staged, tmp)
	}

	if err := tx.Commit(); err != nil {
		discard()
		return fmt.Errorf("committing transaction: %w", err)
	}

	for i, name := range names {
		if err := os.Rename(staged[i], collectionPath(b.dir, name)); err != nil {
			staged = staged[i:]
			discard()
			err = fmt.Errorf("persisting %s%s: %w", name, jsonlExt, err)
			return b.restoreFromDisk(names[:i], before, err)
		}
	}
	return nil
}

// restoreFromDisk restores the JSONL files of the given collections to their
// contents before a failed batch and rebuilds the cache from disk. It
// returns cause, joined with any error hit while recovering. If the cache
// cannot be rebuilt the backend detaches.
// The caller must hold b.mu.
func (b *Backend) restoreFromDisk(renamed []string, before map[string][]json.RawMessage, cause error) error {
	errs := []error{cause}
	for _, name := range renamed {
		if err := writeJSONL(collectionPath(b.dir, name), before[name]); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s%s: %w", name, jsonlExt, err))
		}
	}

	b.db.Close()
	db, err := openCache(b.dir)
	if err != nil {
		b.db = nil
		b.attached = false
		b.collections = make(map[string]*collection)
		errs = append(errs, fmt.Errorf("rebuilding cache: %w", err))
		return errors.Join(errs...)
	}
	b.db = db
	return errors.Join(errs...)
}

// applyOp executes a single validated write inside tx.
func applyOp(ctx context.Context, tx *sql.Tx, op types.WriteOp) error {
	switch op.Kind {
	case types.OpInsert:
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM documents WHERE collection = ? AND doc_id = ?",
			op.Collection, op.ID).Scan(&exists)
		if err == nil {
			return types.ErrDuplicateID
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking document existence: %w", err)
		}
		body, err := encodeBody(op.ID, op.Doc)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, doc_id, seq, body)
			VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents), ?)`,
			op.Collection, op.ID, body)
		if err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		return nil

	case types.OpReplace:
		body, err := encodeBody(op.ID, op.Doc)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE documents SET body = ? WHERE collection = ? AND doc_id = ?",
			body, op.Collection, op.ID)
		if err != nil {
			return fmt.Errorf("replacing document: %w", err)
		}
		return requireRow(res)

	case types.OpDelete:
		res, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND doc_id = ?",
			op.Collection, op.ID)
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

// collectionBodies reads a collection's documents inside tx in insertion
// order.
func collectionBodies(ctx context.Context, tx *sql.Tx, name string) ([]json.RawMessage, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT body FROM documents WHERE collection = ? ORDER BY seq ASC", name)
	if err != nil {
		return nil, fmt.Errorf("querying %s for JSONL: %w", name, err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", name, err)
		}
		records = append(records, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s for JSONL: %w", name, err)
	}
	return records, nil
}
