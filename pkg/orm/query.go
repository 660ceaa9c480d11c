package orm

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// FindOption adjusts a Find query.
type FindOption func(*findOptions)

type findOptions struct {
	types.FindOptions
	populate []string
}

// Limit caps the number of results.
func Limit(n int) FindOption {
	return func(o *findOptions) { o.Limit = n }
}

// Offset skips the first n results.
func Offset(n int) FindOption {
	return func(o *findOptions) { o.Offset = n }
}

// OrderBy sorts by a property. Results are in insertion order otherwise.
func OrderBy(property string, desc bool) FindOption {
	return func(o *findOptions) {
		o.OrderBy = property
		o.Desc = desc
	}
}

// Populate initializes the named relations of every result. "*" selects
// all relations.
func Populate(relations ...string) FindOption {
	return func(o *findOptions) { o.populate = append(o.populate, relations...) }
}

// Find returns the entities of type T matching filter. Filter keys are
// property or relation names; the primary key may be given by its property
// name or as _id.
func Find[T any](ctx context.Context, em *EntityManager, filter types.Filter, opts ...FindOption) ([]*T, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	meta, err := metaOf[T](em)
	if err != nil {
		return nil, err
	}
	var fo findOptions
	for _, opt := range opts {
		opt(&fo)
	}
	storeFilter, err := meta.storeFilter(filter)
	if err != nil {
		return nil, err
	}
	if fo.OrderBy != "" {
		name, err := meta.fieldName(fo.OrderBy)
		if err != nil {
			return nil, err
		}
		fo.OrderBy = name
	}
	relations, err := meta.populateList(fo.populate)
	if err != nil {
		return nil, err
	}

	states, err := em.find(ctx, meta, storeFilter, fo.FindOptions)
	if err != nil {
		return nil, err
	}
	if err := em.populate(ctx, states, relations); err != nil {
		return nil, err
	}
	out := make([]*T, len(states))
	for i, st := range states {
		out[i] = st.entity().(*T)
	}
	return out, nil
}

// FindOne returns the first entity matching filter, or ErrEntityNotFound.
func FindOne[T any](ctx context.Context, em *EntityManager, filter types.Filter, opts ...FindOption) (*T, error) {
	results, err := Find[T](ctx, em, filter, append(opts, Limit(1))...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrEntityNotFound
	}
	return results[0], nil
}

// FindByID returns the entity with the given primary key. The identity map
// is consulted before the store.
func FindByID[T any](ctx context.Context, em *EntityManager, id string, opts ...FindOption) (*T, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	meta, err := metaOf[T](em)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty %s id", ErrEntityNotFound, meta.Name)
	}
	var fo findOptions
	for _, opt := range opts {
		opt(&fo)
	}
	relations, err := meta.populateList(fo.populate)
	if err != nil {
		return nil, err
	}
	st, err := em.get(ctx, meta, id)
	if err != nil {
		return nil, err
	}
	if err := em.populate(ctx, []*entityState{st}, relations); err != nil {
		return nil, err
	}
	return st.entity().(*T), nil
}

// Count returns the number of stored entities of type T matching filter.
// Pending changes are not counted.
func Count[T any](ctx context.Context, em *EntityManager, filter types.Filter) (int, error) {
	if err := em.check(); err != nil {
		return 0, err
	}
	meta, err := metaOf[T](em)
	if err != nil {
		return 0, err
	}
	storeFilter, err := meta.storeFilter(filter)
	if err != nil {
		return 0, err
	}
	return em.count(ctx, meta, storeFilter)
}

// metaOf returns the metadata of entity type T.
func metaOf[T any](em *EntityManager) (*EntityMeta, error) {
	return em.orm.meta.Get(reflect.TypeOf((*T)(nil)).Elem())
}

// populate initializes the given relations on every state. Members of all
// owners are fetched together before the collections resolve from the
// identity map.
func (em *EntityManager) populate(ctx context.Context, states []*entityState, relations []*RelationMeta) error {
	for _, r := range relations {
		var ids []string
		for _, st := range states {
			rel := relationOf(st.ptr, r)
			if !rel.IsInitialized() {
				ids = append(ids, rel.IDs()...)
			}
		}
		if _, err := em.resolve(ctx, r.Target, dedupe(ids)); err != nil {
			return fmt.Errorf("populating %s: %w", r, err)
		}
		for _, st := range states {
			if err := relationOf(st.ptr, r).Init(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// fieldName maps a property or relation name to its document field.
func (m *EntityMeta) fieldName(name string) (string, error) {
	if p, ok := m.Property(name); ok {
		if p == m.Primary {
			return types.IDField, nil
		}
		return p.Name, nil
	}
	if r, ok := m.Relation(name); ok {
		return r.Name, nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.Name, name)
}

// storeFilter rewrites filter keys to document fields.
func (m *EntityMeta) storeFilter(filter types.Filter) (types.Filter, error) {
	out := make(types.Filter, len(filter))
	for k, v := range filter {
		name, err := m.fieldName(k)
		if err != nil {
			return nil, err
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: %s given twice", types.ErrInvalidFilter, name)
		}
		out[name] = v
	}
	return out, nil
}

// populateList resolves relation names for Populate.
func (m *EntityMeta) populateList(names []string) ([]*RelationMeta, error) {
	var out []*RelationMeta
	seen := make(map[*RelationMeta]bool)
	for _, name := range names {
		if name == "*" {
			for _, r := range m.Relations {
				if !seen[r] {
					seen[r] = true
					out = append(out, r)
				}
			}
			continue
		}
		r, ok := m.Relation(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no relation %q", ErrUnknownProperty, m.Name, name)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}
