// Package sqlite implements the SQLite backend for the Shelf storage system.
// JSONL files are the source of truth; SQLite is rebuilt from them on every
// Attach and serves as the query engine.
package sqlite

// Schema DDL for the document table.
const (
	createDocuments = `CREATE TABLE documents (
    collection TEXT NOT NULL,
    doc_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    body TEXT NOT NULL,
    PRIMARY KEY (collection, doc_id)
);`

	idxDocumentsSeq = `CREATE INDEX idx_documents_seq ON documents(collection, seq);`
)

// schemaDDL lists all statements executed on a fresh database.
var schemaDDL = []string{
	createDocuments,
	idxDocumentsSeq,
}

// dbFileName is the SQLite file created inside each database directory.
const dbFileName = "shelf.db"

// jsonlExt is the extension of per-collection source-of-truth files.
const jsonlExt = ".jsonl"
