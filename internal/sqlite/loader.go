// This file implements JSONL loading for startup.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// discoverCollections lists the collections that have a JSONL file in dir,
// sorted by name. Files whose base name is not a valid collection name are
// ignored.
func discoverCollections(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonlExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), jsonlExt)
		if !types.ValidCollectionName(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// loadAllJSONL reads every collection JSONL file in dir and inserts its
// documents into SQLite. Loading is transactional: all succeed or the
// database remains empty. Malformed lines, lines that are not objects,
// documents without a string _id and duplicate ids are skipped. Document
// bodies are stored as read, so fields unknown to the current entity
// schema survive a load and rewrite.
func loadAllJSONL(db *sql.DB, dir string) error {
	collections, err := discoverCollections(dir)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO documents (collection, doc_id, seq, body) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing document insert: %w", err)
	}
	defer stmt.Close()

	var seq int64
	for _, name := range collections {
		records, err := readJSONL(filepath.Join(dir, name+jsonlExt))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name+jsonlExt, err)
		}
		for _, rec := range records {
			var doc types.Document
			if err := json.Unmarshal(rec, &doc); err != nil {
				// Valid JSON that is not an object.
				continue
			}
			id := doc.ID()
			if id == "" {
				continue
			}
			seq++
			if _, err := stmt.Exec(name, id, seq, string(rec)); err != nil {
				return fmt.Errorf("loading %s/%s: %w", name, id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}
