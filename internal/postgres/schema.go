// Package postgres implements the Store interface on Postgres. Documents of
// every logical database share one JSONB table keyed by database name,
// collection and document ID.
package postgres

const createDocuments = `
CREATE TABLE IF NOT EXISTS shelf_documents (
    db_name    TEXT   NOT NULL,
    collection TEXT   NOT NULL,
    doc_id     TEXT   NOT NULL,
    seq        BIGSERIAL,
    body       JSONB  NOT NULL,
    PRIMARY KEY (db_name, collection, doc_id)
)`

const idxDocumentsSeq = `
CREATE INDEX IF NOT EXISTS idx_shelf_documents_seq
    ON shelf_documents (db_name, collection, seq)`

var schemaDDL = []string{createDocuments, idxDocumentsSeq}

// driverName is the database/sql driver registered by pgx/v5/stdlib.
const driverName = "pgx"
