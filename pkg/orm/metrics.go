package orm

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Prometheus collectors of one ORM.
type metrics struct {
	queries         *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	flushes         *prometheus.CounterVec
	collectionInits *prometheus.CounterVec
}

// newMetrics registers the ORM collectors with reg. Collectors already
// registered by an earlier ORM on the same registerer are reused.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_queries_total",
				Help: "Store operations issued by the ORM",
			},
			[]string{"collection", "operation"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelf_query_duration_seconds",
				Help:    "Duration of store operations issued by the ORM",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100us to 1.6s
			},
			[]string{"operation"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_flushes_total",
				Help: "Unit of work flushes by result",
			},
			[]string{"result"},
		),
		collectionInits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_collection_inits_total",
				Help: "Relation collection initializations by result",
			},
			[]string{"relation", "result"},
		),
	}
	var err error
	if m.queries, err = register(reg, m.queries); err != nil {
		return nil, err
	}
	if m.queryDuration, err = register(reg, m.queryDuration); err != nil {
		return nil, err
	}
	if m.flushes, err = register(reg, m.flushes); err != nil {
		return nil, err
	}
	if m.collectionInits, err = register(reg, m.collectionInits); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when an equal
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Flush results.
const (
	resultOK    = "ok"
	resultError = "error"
	resultNoop  = "noop"
)

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}

func (m *metrics) query(collection, op string, seconds float64) {
	m.queries.WithLabelValues(collection, op).Inc()
	m.queryDuration.WithLabelValues(op).Observe(seconds)
}

func (m *metrics) flush(res string) {
	m.flushes.WithLabelValues(res).Inc()
}

func (m *metrics) collectionInit(rel *RelationMeta, err error) {
	m.collectionInits.WithLabelValues(rel.String(), result(err)).Inc()
}
