package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"
)

// IDField is the document key holding the identity of a document.
const IDField = "_id"

// Document is a single JSON document. Values follow encoding/json decoding
// rules: numbers are float64, arrays are []any, objects are map[string]any.
type Document map[string]any

// ID returns the document identity, or "" when the document has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a deep copy of the document made through a JSON round trip,
// so the result holds only JSON-decoded value types.
func (d Document) Clone() (Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return out, nil
}

// Filter selects documents by field equality. Keys are top-level field
// names; all entries must match. A slice value matches when the field
// equals any element. A nil value matches null or missing fields.
type Filter map[string]any

// Fields returns the filter keys in sorted order so that backends build
// deterministic queries.
func (f Filter) Fields() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that every filter value has a supported type.
func (f Filter) Validate() error {
	for k, v := range f {
		if !validFieldName.MatchString(k) {
			return fmt.Errorf("%w: field %q", ErrInvalidFilter, k)
		}
		if _, err := FilterValues(v); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

// FilterValues flattens a filter value into the scalar values it matches.
// Scalars yield a single element; slices yield their elements.
func FilterValues(v any) ([]any, error) {
	switch vv := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return []any{vv}, nil
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, nil
	case []any:
		for _, e := range vv {
			switch e.(type) {
			case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
			default:
				return nil, ErrInvalidFilter
			}
		}
		return vv, nil
	default:
		return nil, ErrInvalidFilter
	}
}

// FindOptions controls ordering and paging for Collection.Find.
type FindOptions struct {
	Limit   int    // Maximum documents returned; 0 means no limit.
	Offset  int    // Documents skipped before the first result.
	OrderBy string // Field to order by; empty keeps insertion order.
	Desc    bool   // Reverse the ordering.
}

// Validate checks the options for negative paging values and bad field names.
func (o FindOptions) Validate() error {
	if o.Limit < 0 || o.Offset < 0 {
		return ErrInvalidFilter
	}
	if o.OrderBy != "" && !validFieldName.MatchString(o.OrderBy) {
		return fmt.Errorf("%w: order by %q", ErrInvalidFilter, o.OrderBy)
	}
	return nil
}

// Write operation kinds for Store.BulkWrite.
const (
	OpInsert  = "insert"
	OpReplace = "replace"
	OpDelete  = "delete"
)

// WriteOp is a single operation in a BulkWrite.
type WriteOp struct {
	Kind       string   // OpInsert, OpReplace or OpDelete.
	Collection string   // Target collection name.
	ID         string   // Document ID; required for every kind.
	Doc        Document // Document body; ignored for OpDelete.
}

// Validate checks that the operation is well-formed.
func (op WriteOp) Validate() error {
	if !ValidCollectionName(op.Collection) {
		return fmt.Errorf("%w: %q", ErrCollectionName, op.Collection)
	}
	if op.ID == "" {
		return ErrInvalidID
	}
	switch op.Kind {
	case OpInsert, OpReplace:
		if op.Doc == nil {
			return ErrInvalidDocument
		}
	case OpDelete:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidWriteOp, op.Kind)
	}
	return nil
}

var (
	validCollectionName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	validFieldName      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidCollectionName reports whether name can be used as a collection name.
func ValidCollectionName(name string) bool {
	return validCollectionName.MatchString(name)
}

// NewID generates a UUID v7 string for a new document.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}
