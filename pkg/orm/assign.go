package orm

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Assign sets properties and relations of entity from data, keyed by
// property or relation name. Property values are converted the way stored
// documents are decoded. Relation values may be a []*T, a []string of
// primary keys, a []any holding either, or nil to empty the collection.
// Collections of entity are bound to em so that they can be initialized
// before the entity is persisted.
func Assign(em *EntityManager, entity any, data map[string]any) error {
	if err := em.check(); err != nil {
		return err
	}
	meta, ptr, err := em.entityValue(entity)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v := ptr.Elem()
	for _, k := range keys {
		val := data[k]
		if r, ok := meta.Relation(k); ok {
			rel := relationOf(ptr, r)
			if !em.IsManaged(entity) {
				rel.bind(em, r)
			}
			if err := rel.assign(em, val); err != nil {
				return fmt.Errorf("assigning %s: %w", r, err)
			}
			continue
		}
		p, ok := meta.Property(k)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, meta.Name, k)
		}
		if p == meta.Primary && em.IsManaged(entity) {
			if id, _ := val.(string); id != em.byPtr[entity].id {
				return fmt.Errorf("%w: %s %s", ErrImmutablePrimary, meta.Name, em.byPtr[entity].id)
			}
			continue
		}
		if p == meta.Primary {
			if _, ok := val.(string); !ok && val != nil {
				return fmt.Errorf("%w: %s %s must be a string", ErrInvalidAssign, meta.Name, types.IDField)
			}
		}
		if err := setProperty(v.FieldByIndex(p.Index), val); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrInvalidAssign, meta.Name, p.Name, err)
		}
	}
	return nil
}
