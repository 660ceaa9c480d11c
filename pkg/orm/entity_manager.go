package orm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// entityStatus tracks an entity through the unit of work.
type entityStatus int

const (
	statusNew entityStatus = iota
	statusManaged
	statusRemoved
	// Removed before it was ever flushed. The pointer stays known so that
	// collections still holding it neither cascade nor store it.
	statusDiscarded
)

// entityState is the unit of work record of one entity.
type entityState struct {
	meta     *EntityMeta
	ptr      reflect.Value // *T
	id       string
	status   entityStatus
	original types.Document // last stored document; nil while new
}

// entity returns the tracked pointer.
func (st *entityState) entity() any {
	return st.ptr.Interface()
}

// identityKey addresses an entity in the identity map.
type identityKey struct {
	collection string
	id         string
}

// EntityManager is a unit of work. It keeps an identity map so that every
// document is materialized once, stages new and removed entities, and
// writes all pending changes on Flush. An EntityManager is not safe for
// concurrent use; fork one per goroutine or request.
type EntityManager struct {
	orm    *ORM
	global bool

	identity map[identityKey]*entityState
	byPtr    map[any]*entityState
	order    []*entityState
}

func newEntityManager(o *ORM, global bool) *EntityManager {
	return &EntityManager{
		orm:      o,
		global:   global,
		identity: make(map[identityKey]*entityState),
		byPtr:    make(map[any]*entityState),
	}
}

// Fork returns a fresh entity manager of the same ORM.
func (em *EntityManager) Fork() *EntityManager {
	return em.orm.Fork()
}

// ORM returns the owning ORM.
func (em *EntityManager) ORM() *ORM {
	return em.orm
}

// check guards every operation on the manager.
func (em *EntityManager) check() error {
	if em.global && !em.orm.opts.AllowGlobalContext {
		return ErrGlobalContext
	}
	if !em.orm.IsConnected() {
		return ErrClosed
	}
	return nil
}

// Persist stages entities for insertion on the next Flush. Members of
// initialized collections are persisted with their owner. Persisting a
// managed entity is a no-op; persisting a removed one cancels the removal.
func (em *EntityManager) Persist(entities ...any) error {
	if err := em.check(); err != nil {
		return err
	}
	for _, e := range entities {
		if _, err := em.persist(e); err != nil {
			return err
		}
	}
	return nil
}

// persist tracks one entity and cascades into its loaded collections.
func (em *EntityManager) persist(entity any) (*entityState, error) {
	meta, ptr, err := em.entityValue(entity)
	if err != nil {
		return nil, err
	}
	if st, ok := em.byPtr[entity]; ok {
		switch st.status {
		case statusRemoved:
			st.status = statusManaged
		case statusDiscarded:
			key := identityKey{meta.Collection, st.id}
			if _, taken := em.identity[key]; taken {
				return nil, fmt.Errorf("%w: %s %s", ErrIdentityConflict, meta.Name, st.id)
			}
			em.identity[key] = st
			st.status = statusNew
			if err := em.cascade(st); err != nil {
				return nil, err
			}
		}
		return st, nil
	}

	idField := ptr.Elem().FieldByIndex(meta.Primary.Index)
	id := idField.String()
	if id == "" {
		id = types.NewID()
		idField.SetString(id)
	}
	key := identityKey{meta.Collection, id}
	if _, taken := em.identity[key]; taken {
		return nil, fmt.Errorf("%w: %s %s", ErrIdentityConflict, meta.Name, id)
	}
	st := &entityState{meta: meta, ptr: ptr, id: id, status: statusNew}
	em.track(st)
	em.bindRelations(st)
	if err := em.cascade(st); err != nil {
		return nil, err
	}
	return st, nil
}

// cascade persists untracked members of the loaded collections of st.
func (em *EntityManager) cascade(st *entityState) error {
	for _, r := range st.meta.Relations {
		for _, item := range relationOf(st.ptr, r).loaded() {
			if _, ok := em.byPtr[item]; ok {
				continue
			}
			if _, err := em.persist(item); err != nil {
				return fmt.Errorf("cascading %s: %w", r, err)
			}
		}
	}
	return nil
}

func (em *EntityManager) track(st *entityState) {
	em.identity[identityKey{st.meta.Collection, st.id}] = st
	em.byPtr[st.entity()] = st
	em.order = append(em.order, st)
}

func (em *EntityManager) untrack(st *entityState) {
	delete(em.identity, identityKey{st.meta.Collection, st.id})
	delete(em.byPtr, st.entity())
}

func (em *EntityManager) bindRelations(st *entityState) {
	for _, r := range st.meta.Relations {
		relationOf(st.ptr, r).bind(em, r)
	}
}

// Remove stages managed entities for deletion on the next Flush. A new
// entity that was never flushed is discarded: it is not written, and
// collections that still hold it leave it out of the stored member IDs.
// Persisting it again makes it new.
func (em *EntityManager) Remove(entities ...any) error {
	if err := em.check(); err != nil {
		return err
	}
	for _, e := range entities {
		if _, _, err := em.entityValue(e); err != nil {
			return err
		}
		st, ok := em.byPtr[e]
		if !ok {
			return fmt.Errorf("%w: %T", ErrNotManaged, e)
		}
		switch st.status {
		case statusNew:
			delete(em.identity, identityKey{st.meta.Collection, st.id})
			st.status = statusDiscarded
		case statusManaged:
			st.status = statusRemoved
		}
	}
	return nil
}

// IsManaged reports whether entity is tracked and not removed.
func (em *EntityManager) IsManaged(entity any) bool {
	st, ok := em.byPtr[entity]
	return ok && (st.status == statusNew || st.status == statusManaged)
}

// Clear detaches every entity and drops pending changes.
func (em *EntityManager) Clear() {
	em.identity = make(map[identityKey]*entityState)
	em.byPtr = make(map[any]*entityState)
	em.order = nil
}

// Flush writes every pending insert, change and removal in one atomic
// batch. On failure nothing is written and the pending state is kept.
func (em *EntityManager) Flush(ctx context.Context) error {
	if err := em.check(); err != nil {
		return err
	}
	// Members added to collections after Persist.
	for i := 0; i < len(em.order); i++ {
		st := em.order[i]
		if st.status == statusRemoved || st.status == statusDiscarded || em.byPtr[st.entity()] != st {
			continue
		}
		if err := em.cascade(st); err != nil {
			em.orm.metrics.flush(resultError)
			return err
		}
	}

	type pending struct {
		st  *entityState
		doc types.Document
	}
	var ops []types.WriteOp
	var written []pending
	for _, st := range em.order {
		if em.byPtr[st.entity()] != st {
			continue
		}
		switch st.status {
		case statusNew:
			doc, err := em.toDocument(st)
			if err != nil {
				em.orm.metrics.flush(resultError)
				return err
			}
			ops = append(ops, types.WriteOp{Kind: types.OpInsert, Collection: st.meta.Collection, ID: st.id, Doc: doc})
			written = append(written, pending{st, doc})
		case statusManaged:
			if err := em.checkPrimary(st); err != nil {
				em.orm.metrics.flush(resultError)
				return err
			}
			doc, err := em.toDocument(st)
			if err != nil {
				em.orm.metrics.flush(resultError)
				return err
			}
			if reflect.DeepEqual(map[string]any(doc), map[string]any(st.original)) {
				continue
			}
			ops = append(ops, types.WriteOp{Kind: types.OpReplace, Collection: st.meta.Collection, ID: st.id, Doc: doc})
			written = append(written, pending{st, doc})
		case statusRemoved:
			ops = append(ops, types.WriteOp{Kind: types.OpDelete, Collection: st.meta.Collection, ID: st.id})
			written = append(written, pending{st, nil})
		}
	}
	if len(ops) == 0 {
		em.orm.metrics.flush(resultNoop)
		return nil
	}

	start := time.Now()
	err := em.orm.bulkWrite(ctx, ops)
	took := time.Since(start)
	em.orm.metrics.query("*", "bulk_write", took.Seconds())
	em.orm.log.query(ctx, "bulk_write", "*", ops, took, err, "ops", len(ops))
	em.orm.metrics.flush(result(err))
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	for _, w := range written {
		if w.doc == nil {
			em.untrack(w.st)
			continue
		}
		w.st.status = statusManaged
		w.st.original = w.doc
		em.markStored(w.st, w.doc)
	}
	kept := em.order[:0]
	for _, st := range em.order {
		if em.byPtr[st.entity()] == st {
			kept = append(kept, st)
		}
	}
	clear(em.order[len(kept):])
	em.order = kept
	return nil
}

// checkPrimary rejects a managed entity whose primary key field changed.
func (em *EntityManager) checkPrimary(st *entityState) error {
	if got := st.ptr.Elem().FieldByIndex(st.meta.Primary.Index).String(); got != st.id {
		return fmt.Errorf("%w: %s %s changed to %q", ErrImmutablePrimary, st.meta.Name, st.id, got)
	}
	return nil
}

// markStored resets the collections of st so that their next write-back
// compares against what was just stored.
func (em *EntityManager) markStored(st *entityState, doc types.Document) {
	for _, r := range st.meta.Relations {
		rel := relationOf(st.ptr, r)
		if em.holdsDiscarded(rel) {
			// Recomputed on every flush until the member is persisted again.
			continue
		}
		raw, present := doc[r.Name]
		rel.stored(raw, present)
	}
}

// holdsDiscarded reports whether the loaded collection rel holds a
// discarded entity.
func (em *EntityManager) holdsDiscarded(rel relation) bool {
	for _, item := range rel.loaded() {
		if st, ok := em.byPtr[item]; ok && st.status == statusDiscarded {
			return true
		}
	}
	return false
}

// entityValue validates that entity is a non-nil pointer to a registered
// struct.
func (em *EntityManager) entityValue(entity any) (*EntityMeta, reflect.Value, error) {
	if entity == nil {
		return nil, reflect.Value{}, ErrNotEntity
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, reflect.Value{}, fmt.Errorf("%w: %T", ErrNotEntity, entity)
	}
	meta, err := em.orm.meta.Get(v.Type().Elem())
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return meta, v, nil
}

// relationOf returns the collection field r of the entity behind ptr.
func relationOf(ptr reflect.Value, r *RelationMeta) relation {
	return ptr.Elem().FieldByIndex(r.Index).Addr().Interface().(relation)
}

// merge returns the managed entity for doc, materializing it when the
// identity map does not hold it yet. Managed instances are not refreshed.
func (em *EntityManager) merge(ctx context.Context, meta *EntityMeta, doc types.Document) (*entityState, error) {
	id := doc.ID()
	if id == "" {
		return nil, fmt.Errorf("%w: %s document without %s", ErrHydration, meta.Name, types.IDField)
	}
	if st, ok := em.identity[identityKey{meta.Collection, id}]; ok {
		return st, nil
	}
	ptr := reflect.New(meta.Type)
	st := &entityState{meta: meta, ptr: ptr, id: id, status: statusManaged, original: doc}
	if err := em.hydrate(ctx, st, doc); err != nil {
		return nil, err
	}
	em.track(st)
	return st, nil
}

// resolveBatchSize bounds the ids bound into one membership query.
var resolveBatchSize = 500

// resolve returns the entities of target with the given IDs in order,
// loading the ones missing from the identity map in one query. IDs without
// a stored or managed entity are skipped.
func (em *EntityManager) resolve(ctx context.Context, target *EntityMeta, ids []string) ([]any, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := em.identity[identityKey{target.Collection, id}]; !ok {
			missing = append(missing, id)
		}
	}
	for len(missing) > 0 {
		batch := missing[:min(len(missing), resolveBatchSize)]
		missing = missing[len(batch):]
		if _, err := em.find(ctx, target, types.Filter{types.IDField: batch}, types.FindOptions{}); err != nil {
			return nil, err
		}
	}
	out := make([]any, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		st, ok := em.identity[identityKey{target.Collection, id}]
		if !ok || st.status == statusRemoved {
			skipped++
			continue
		}
		out = append(out, st.entity())
	}
	if skipped > 0 {
		em.orm.log.debug(ctx, nsQuery, "skipped dangling references",
			"entity", target.Name, "count", skipped)
	}
	return out, nil
}

// find runs a store query and merges the results into the identity map.
func (em *EntityManager) find(ctx context.Context, meta *EntityMeta, filter types.Filter, opts types.FindOptions) ([]*entityState, error) {
	c, err := em.orm.collection(meta)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	docs, err := c.Find(ctx, filter, opts)
	took := time.Since(start)
	em.orm.metrics.query(meta.Collection, "find", took.Seconds())
	em.orm.log.query(ctx, "find", meta.Collection, filter, took, err, "results", len(docs))
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", meta.Name, err)
	}
	states := make([]*entityState, 0, len(docs))
	for _, doc := range docs {
		st, err := em.merge(ctx, meta, doc)
		if err != nil {
			return nil, err
		}
		if st.status == statusRemoved {
			continue
		}
		states = append(states, st)
	}
	return states, nil
}

// get loads one document by ID, consulting the identity map first.
func (em *EntityManager) get(ctx context.Context, meta *EntityMeta, id string) (*entityState, error) {
	if st, ok := em.identity[identityKey{meta.Collection, id}]; ok {
		if st.status == statusRemoved {
			return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, meta.Name, id)
		}
		return st, nil
	}
	c, err := em.orm.collection(meta)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	doc, err := c.Get(ctx, id)
	took := time.Since(start)
	em.orm.metrics.query(meta.Collection, "get", took.Seconds())
	em.orm.log.query(ctx, "get", meta.Collection, map[string]string{types.IDField: id}, took, err)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, meta.Name, id)
		}
		return nil, fmt.Errorf("getting %s: %w", meta.Name, err)
	}
	return em.merge(ctx, meta, doc)
}

// count runs a store count.
func (em *EntityManager) count(ctx context.Context, meta *EntityMeta, filter types.Filter) (int, error) {
	c, err := em.orm.collection(meta)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := c.Count(ctx, filter)
	took := time.Since(start)
	em.orm.metrics.query(meta.Collection, "count", took.Seconds())
	em.orm.log.query(ctx, "count", meta.Collection, filter, took, err, "count", n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", meta.Name, err)
	}
	return n, nil
}
