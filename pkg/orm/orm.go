package orm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/shelf/pkg/store"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Options configures Init.
type Options struct {
	// ClientURL locates the store, e.g. sqlite:///var/lib/shelf or
	// postgres://user@host/db. Ignored when Store is set.
	ClientURL string

	// DBName selects the logical database. Defaults to types.DefaultDBName.
	DBName string

	// Entities lists the entity types, as values, pointers or reflect.Type.
	Entities []any

	// AllowGlobalContext permits work on the manager returned by EM.
	// Without it only forks may be used.
	AllowGlobalContext bool

	// Debug enables log namespaces: query, query-params, discovery, info.
	Debug []string

	// Logger receives ORM logs. Defaults to a text logger on stderr.
	Logger *slog.Logger

	// Registerer receives the ORM metrics. Defaults to a private registry
	// exposed by Gatherer.
	Registerer prometheus.Registerer

	// Store is an attached store to use instead of opening ClientURL.
	// The ORM does not detach a caller-supplied store on Close.
	Store types.Store
}

// ORM owns the store connection, entity metadata and the global entity
// manager. It is safe for concurrent use; entity managers are not.
type ORM struct {
	opts      Options
	meta      *Metadata
	log       *logger
	metrics   *metrics
	gatherer  prometheus.Gatherer
	store     types.Store
	ownsStore bool
	em        *EntityManager

	mu     sync.RWMutex
	closed bool
}

// Init discovers the entities and connects to the store.
func Init(ctx context.Context, opts Options) (*ORM, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lg, err := newLogger(opts.Logger, opts.Debug)
	if err != nil {
		return nil, err
	}
	meta, err := discover(opts.Entities)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	for _, m := range meta.All() {
		lg.debug(ctx, nsDiscovery, "discovered entity",
			"entity", m.Name, "collection", m.Collection,
			"properties", len(m.Properties), "relations", len(m.Relations))
		for _, r := range m.Relations {
			lg.debug(ctx, nsDiscovery, "discovered relation",
				"relation", r.String(), "target", r.Target.Name, "nullable", r.Nullable)
		}
	}

	reg := opts.Registerer
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	o := &ORM{
		opts:     opts,
		meta:     meta,
		log:      lg,
		metrics:  m,
		gatherer: gatherer,
	}
	if opts.Store != nil {
		o.store = opts.Store
	} else {
		s, err := store.OpenURL(opts.ClientURL, opts.DBName)
		if err != nil {
			return nil, fmt.Errorf("connecting: %w", err)
		}
		o.store = s
		o.ownsStore = true
	}
	o.em = newEntityManager(o, true)
	lg.info(ctx, "connected", "db", dbName(opts.DBName), "entities", len(meta.entities))
	return o, nil
}

// dbName returns the effective database name for logging.
func dbName(name string) string {
	if name == "" {
		return types.DefaultDBName
	}
	return name
}

// EM returns the global entity manager. Operations on it fail with
// ErrGlobalContext unless Options.AllowGlobalContext is set.
func (o *ORM) EM() *EntityManager {
	return o.em
}

// Fork returns a fresh entity manager with an empty identity map.
func (o *ORM) Fork() *EntityManager {
	return newEntityManager(o, false)
}

// Metadata returns the discovered entities.
func (o *ORM) Metadata() *Metadata {
	return o.meta
}

// Gatherer returns the registry holding the ORM metrics, or nil when the
// caller's Registerer cannot be gathered.
func (o *ORM) Gatherer() prometheus.Gatherer {
	return o.gatherer
}

// IsConnected reports whether Close has not been called.
func (o *ORM) IsConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.closed
}

// Close disconnects from the store. Close is idempotent.
func (o *ORM) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.log.info(ctx, "closed", "db", dbName(o.opts.DBName))
	if o.ownsStore {
		if err := o.store.Detach(); err != nil {
			return fmt.Errorf("detaching store: %w", err)
		}
	}
	return nil
}

// collection returns the store collection of an entity, failing once the
// ORM is closed.
func (o *ORM) collection(meta *EntityMeta) (types.Collection, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrClosed
	}
	return o.store.Collection(meta.Collection)
}

// bulkWrite forwards a batch to the store, failing once the ORM is closed.
func (o *ORM) bulkWrite(ctx context.Context, ops []types.WriteOp) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	return o.store.BulkWrite(ctx, ops)
}
