package orm

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// relation is implemented by *Collection[T]. The entity manager uses it to
// reach collections through reflection without knowing T.
type relation interface {
	Init(ctx context.Context) error
	IsInitialized() bool
	IDs() []string

	targetType() reflect.Type
	bind(em *EntityManager, meta *RelationMeta)
	hydrate(raw any, present bool)
	stored(raw any, present bool)
	documentValue() (any, bool)
	loaded() []any
	assign(em *EntityManager, value any) error
}

// Collection is an owning many-to-many relation to entities of type T.
// Declare it as a value field of the owning entity:
//
//	Flowers orm.Collection[Flower] `shelf:"flowers,nullable"`
//
// The zero value is an initialized, empty collection. A collection loaded
// from the store starts uninitialized and holds only member IDs until Init
// resolves them. A Collection is not safe for concurrent use.
type Collection[T any] struct {
	em   *EntityManager
	meta *RelationMeta

	items []*T
	ids   []string // Member IDs while uninitialized.
	lazy  bool

	// Stored state, written back unchanged until the collection is modified.
	hydrated bool
	present  bool
	raw      any
	modified bool
}

// Init loads the members of an uninitialized collection. Stored IDs whose
// target no longer exists are skipped. Init on an initialized collection
// does nothing.
func (c *Collection[T]) Init(ctx context.Context) error {
	if !c.lazy {
		return nil
	}
	if c.em == nil || c.meta == nil {
		return ErrUnboundCollection
	}
	start := time.Now()
	entities, err := c.em.resolve(ctx, c.meta.Target, c.ids)
	c.em.orm.metrics.collectionInit(c.meta, err)
	if err != nil {
		return fmt.Errorf("initializing %s: %w", c.meta, err)
	}
	items := make([]*T, 0, len(entities))
	for _, e := range entities {
		if item, ok := e.(*T); ok {
			items = append(items, item)
		}
	}
	c.em.orm.log.debug(ctx, nsQuery, "collection initialized",
		"relation", c.meta.String(), "stored", len(c.ids), "loaded", len(items), "took", time.Since(start))
	c.items = items
	c.ids = nil
	c.lazy = false
	return nil
}

// IsInitialized reports whether the members are loaded.
func (c *Collection[T]) IsInitialized() bool {
	return !c.lazy
}

// Count returns the number of loaded members.
func (c *Collection[T]) Count() (int, error) {
	if c.lazy {
		return 0, ErrNotInitialized
	}
	return len(c.items), nil
}

// Items returns a copy of the loaded members.
func (c *Collection[T]) Items() ([]*T, error) {
	if c.lazy {
		return nil, ErrNotInitialized
	}
	out := make([]*T, len(c.items))
	copy(out, c.items)
	return out, nil
}

// Add appends members not already present. Nil items are ignored.
func (c *Collection[T]) Add(items ...*T) error {
	if c.lazy {
		return ErrNotInitialized
	}
	for _, item := range items {
		if item == nil || c.Contains(item) {
			continue
		}
		c.items = append(c.items, item)
	}
	c.modified = true
	return nil
}

// Remove drops the given members.
func (c *Collection[T]) Remove(items ...*T) error {
	if c.lazy {
		return ErrNotInitialized
	}
	kept := c.items[:0]
	for _, have := range c.items {
		drop := false
		for _, item := range items {
			if c.same(have, item) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, have)
		}
	}
	clear(c.items[len(kept):])
	c.items = kept
	c.modified = true
	return nil
}

// Set replaces all members. The collection is initialized afterwards.
func (c *Collection[T]) Set(items ...*T) {
	next := make([]*T, 0, len(items))
outer:
	for _, item := range items {
		if item == nil {
			continue
		}
		for _, have := range next {
			if c.same(have, item) {
				continue outer
			}
		}
		next = append(next, item)
	}
	c.items = next
	c.ids = nil
	c.lazy = false
	c.modified = true
}

// Contains reports whether item is a member. Uninitialized collections
// compare by primary key.
func (c *Collection[T]) Contains(item *T) bool {
	if item == nil {
		return false
	}
	if c.lazy {
		id := c.idOf(item)
		if id == "" {
			return false
		}
		for _, have := range c.ids {
			if have == id {
				return true
			}
		}
		return false
	}
	for _, have := range c.items {
		if c.same(have, item) {
			return true
		}
	}
	return false
}

// IDs returns the primary keys of the members. Members that have not been
// persisted yet report an empty ID.
func (c *Collection[T]) IDs() []string {
	if c.lazy {
		out := make([]string, len(c.ids))
		copy(out, c.ids)
		return out
	}
	out := make([]string, len(c.items))
	for i, item := range c.items {
		out[i] = c.idOf(item)
	}
	return out
}

// same reports whether two members are the same entity: the same pointer
// or equal non-empty primary keys.
func (c *Collection[T]) same(a, b *T) bool {
	if a == b {
		return true
	}
	ida := c.idOf(a)
	return ida != "" && ida == c.idOf(b)
}

// idOf reads the primary key of a member.
func (c *Collection[T]) idOf(item *T) string {
	if item == nil {
		return ""
	}
	var index []int
	if c.meta != nil && c.meta.Target != nil {
		index = c.meta.Target.Primary.Index
	} else {
		index = primaryIndex(c.targetType())
	}
	if index == nil {
		return ""
	}
	return reflect.ValueOf(item).Elem().FieldByIndex(index).String()
}

func (c *Collection[T]) targetType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (c *Collection[T]) bind(em *EntityManager, meta *RelationMeta) {
	c.em = em
	c.meta = meta
}

// hydrate loads the stored member IDs. A missing, null or malformed field
// yields an empty collection; the raw value is kept for write-back.
func (c *Collection[T]) hydrate(raw any, present bool) {
	c.items = nil
	c.ids = storedIDs(raw)
	c.lazy = true
	c.hydrated = true
	c.present = present
	c.raw = raw
	c.modified = false
}

// stored records the value just written so that an unmodified collection
// is written back as is. Loaded members stay loaded.
func (c *Collection[T]) stored(raw any, present bool) {
	c.hydrated = true
	c.present = present
	c.raw = raw
	c.modified = false
}

// documentValue returns the value to store and whether the field should be
// written at all.
func (c *Collection[T]) documentValue() (any, bool) {
	if c.hydrated && !c.modified {
		return c.raw, c.present
	}
	return c.IDs(), true
}

// loaded returns the members as untyped pointers, or nil when
// uninitialized.
func (c *Collection[T]) loaded() []any {
	if c.lazy {
		return nil
	}
	out := make([]any, len(c.items))
	for i, item := range c.items {
		out[i] = item
	}
	return out
}

// assign replaces the members from a []*T, a []string of IDs, a []any
// holding only one of the two, or nil. IDs leave the collection
// uninitialized.
func (c *Collection[T]) assign(em *EntityManager, value any) error {
	if c.em == nil {
		c.em = em
	}
	switch v := value.(type) {
	case nil:
		c.Set()
	case []*T:
		c.Set(v...)
	case []T:
		items := make([]*T, len(v))
		for i := range v {
			items[i] = &v[i]
		}
		c.Set(items...)
	case []string:
		c.setIDs(v)
	case []any:
		var items []*T
		var ids []string
		for _, e := range v {
			switch ev := e.(type) {
			case *T:
				items = append(items, ev)
			case string:
				ids = append(ids, ev)
			default:
				return fmt.Errorf("%w: %T in %s collection", ErrInvalidAssign, e, c.targetType().Name())
			}
		}
		if len(ids) > 0 && len(items) > 0 {
			return fmt.Errorf("%w: cannot mix entities and IDs", ErrInvalidAssign)
		}
		if len(ids) > 0 {
			c.setIDs(ids)
		} else {
			c.Set(items...)
		}
	default:
		return fmt.Errorf("%w: %T for %s collection", ErrInvalidAssign, value, c.targetType().Name())
	}
	return nil
}

// setIDs replaces the members by reference. Init resolves them.
func (c *Collection[T]) setIDs(ids []string) {
	c.items = nil
	c.ids = dedupe(ids)
	c.lazy = true
	c.modified = true
}

// storedIDs extracts member IDs from a stored relation value. Non-string
// elements are ignored.
func storedIDs(raw any) []string {
	switch v := raw.(type) {
	case []any:
		ids := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return dedupe(ids)
	case []string:
		return dedupe(v)
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// dedupe drops empty and repeated IDs, keeping first occurrences in order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
