package types

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "abc", Document{IDField: "abc"}.ID())
	assert.Equal(t, "", Document{"name": "x"}.ID())
	assert.Equal(t, "", Document{IDField: 42}.ID())
}

func TestDocumentClone(t *testing.T) {
	orig := Document{
		IDField:   "p1",
		"name":    "Pot",
		"flowers": []string{"f1", "f2"},
		"size":    3,
	}
	cp, err := orig.Clone()
	require.NoError(t, err)

	assert.Equal(t, "p1", cp.ID())
	assert.Equal(t, []any{"f1", "f2"}, cp["flowers"], "slices decode as []any")
	assert.Equal(t, float64(3), cp["size"], "numbers decode as float64")

	cp["name"] = "changed"
	assert.Equal(t, "Pot", orig["name"])
}

func TestDocumentCloneRejectsUnencodable(t *testing.T) {
	_, err := Document{"ch": make(chan int)}.Clone()
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{name: "nil filter", filter: nil},
		{name: "empty filter", filter: Filter{}},
		{name: "string value", filter: Filter{"name": "Rose"}},
		{name: "numeric value", filter: Filter{"size": 3}},
		{name: "bool value", filter: Filter{"active": true}},
		{name: "null value", filter: Filter{"flowers": nil}},
		{name: "string slice", filter: Filter{"_id": []string{"a", "b"}}},
		{name: "any slice", filter: Filter{"type": []any{"Rose", "Tulip"}}},
		{name: "map value", filter: Filter{"meta": map[string]any{"a": 1}}, wantErr: true},
		{name: "nested slice", filter: Filter{"type": []any{[]any{"x"}}}, wantErr: true},
		{name: "bad field name", filter: Filter{"a.b": "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFilterFieldsSorted(t *testing.T) {
	f := Filter{"type": "Rose", "_id": "x", "name": "n"}
	assert.Equal(t, []string{"_id", "name", "type"}, f.Fields())
}

func TestFindOptionsValidate(t *testing.T) {
	assert.NoError(t, FindOptions{}.Validate())
	assert.NoError(t, FindOptions{Limit: 2, Offset: 1, OrderBy: "name", Desc: true}.Validate())
	assert.ErrorIs(t, FindOptions{Limit: -1}.Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, FindOptions{OrderBy: "name; DROP"}.Validate(), ErrInvalidFilter)
}

func TestWriteOpValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      WriteOp
		wantErr error
	}{
		{name: "insert", op: WriteOp{Kind: OpInsert, Collection: "pot", ID: "1", Doc: Document{}}},
		{name: "replace", op: WriteOp{Kind: OpReplace, Collection: "pot", ID: "1", Doc: Document{}}},
		{name: "delete without doc", op: WriteOp{Kind: OpDelete, Collection: "pot", ID: "1"}},
		{name: "bad collection", op: WriteOp{Kind: OpDelete, Collection: "Pot", ID: "1"}, wantErr: ErrCollectionName},
		{name: "missing id", op: WriteOp{Kind: OpDelete, Collection: "pot"}, wantErr: ErrInvalidID},
		{name: "insert without doc", op: WriteOp{Kind: OpInsert, Collection: "pot", ID: "1"}, wantErr: ErrInvalidDocument},
		{name: "unknown kind", op: WriteOp{Kind: "upsert", Collection: "pot", ID: "1"}, wantErr: ErrInvalidWriteOp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidCollectionName(t *testing.T) {
	assert.True(t, ValidCollectionName("pot"))
	assert.True(t, ValidCollectionName("flower_bed2"))
	assert.False(t, ValidCollectionName(""))
	assert.False(t, ValidCollectionName("Pot"))
	assert.False(t, ValidCollectionName("2pots"))
	assert.False(t, ValidCollectionName("pot;drop"))
}

func TestNewIDIsUUIDv7(t *testing.T) {
	id := NewID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, NewID())
}
