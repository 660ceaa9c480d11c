package orm

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// hydrate copies doc into the fresh entity of st. Properties missing from
// the document keep their zero value, null resets them, and fields the
// entity does not declare are ignored. Relation fields become uninitialized
// collections holding the stored IDs.
func (em *EntityManager) hydrate(ctx context.Context, st *entityState, doc types.Document) error {
	v := st.ptr.Elem()
	v.FieldByIndex(st.meta.Primary.Index).SetString(st.id)

	for _, p := range st.meta.Properties {
		raw, ok := doc[p.Name]
		if !ok {
			continue
		}
		if err := setProperty(v.FieldByIndex(p.Index), raw); err != nil {
			return fmt.Errorf("%w: %s %s property %s: %v", ErrHydration, st.meta.Name, st.id, p.Name, err)
		}
	}
	for _, r := range st.meta.Relations {
		raw, present := doc[r.Name]
		rel := relationOf(st.ptr, r)
		rel.bind(em, r)
		rel.hydrate(raw, present)
		if present && raw != nil && !isIDList(raw) {
			em.orm.log.warn(ctx, "ignoring malformed relation value",
				"relation", r.String(), "id", st.id, "value", encodeParams(raw))
		}
	}
	return nil
}

// isIDList reports whether a stored relation value is an ID or an array of
// IDs.
func isIDList(raw any) bool {
	switch v := raw.(type) {
	case string, []string:
		return true
	case []any:
		for _, e := range v {
			if _, ok := e.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// setProperty decodes a JSON-shaped value into field.
func setProperty(field reflect.Value, raw any) error {
	if raw == nil {
		field.SetZero()
		return nil
	}
	if rv := reflect.ValueOf(raw); rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	target := reflect.New(field.Type())
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return err
	}
	field.Set(target.Elem())
	return nil
}

// toDocument serializes the entity of st. Fields of the last stored
// document that the entity does not declare are carried over, so writing
// through an older schema keeps data written by a newer one. The result is
// normalized to JSON-decoded types for comparison with stored documents.
func (em *EntityManager) toDocument(st *entityState) (types.Document, error) {
	doc := make(types.Document, len(st.original)+len(st.meta.Properties)+len(st.meta.Relations)+1)
	for k, val := range st.original {
		doc[k] = val
	}
	doc[types.IDField] = st.id

	v := st.ptr.Elem()
	for _, p := range st.meta.Properties {
		doc[p.Name] = v.FieldByIndex(p.Index).Interface()
	}
	for _, r := range st.meta.Relations {
		rel := relationOf(st.ptr, r)
		val, present := rel.documentValue()
		if !present {
			delete(doc, r.Name)
			continue
		}
		if ids, ok := val.([]string); ok {
			ids = em.dropDiscarded(rel, ids)
			val = ids
			for _, id := range ids {
				if id == "" {
					return nil, fmt.Errorf("%w: %s %s holds an entity without a primary key", ErrNotManaged, r, st.id)
				}
			}
		}
		doc[r.Name] = val
	}

	out, err := doc.Clone()
	if err != nil {
		return nil, fmt.Errorf("serializing %s %s: %w", st.meta.Name, st.id, err)
	}
	return out, nil
}

// dropDiscarded removes the IDs of discarded members from ids, the member
// IDs of the loaded collection rel.
func (em *EntityManager) dropDiscarded(rel relation, ids []string) []string {
	items := rel.loaded()
	if len(items) != len(ids) {
		return ids
	}
	out := ids[:0:0]
	for i, item := range items {
		if st, ok := em.byPtr[item]; ok && st.status == statusDiscarded {
			continue
		}
		out = append(out, ids[i])
	}
	return out
}
