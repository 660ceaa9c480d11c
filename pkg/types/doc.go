// Package types defines the Store and Collection interfaces, the Document and
// Filter shapes, backend configuration, and standard error types for the
// Shelf document storage system.
//
// Backends implement Store; the orm package maps Go entities onto it.
package types
