package orm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Debug namespaces accepted by Options.Debug.
const (
	nsQuery       = "query"        // every store round trip
	nsQueryParams = "query-params" // filters and write payloads on query lines
	nsDiscovery   = "discovery"    // discovered entities and relations
	nsInfo        = "info"         // connect and close
)

var knownNamespaces = map[string]bool{
	nsQuery:       true,
	nsQueryParams: true,
	nsDiscovery:   true,
	nsInfo:        true,
}

const logPrefix = "[shelf] "

// logger writes namespaced ORM logs through slog.
type logger struct {
	l       *slog.Logger
	enabled map[string]bool
}

// newLogger validates the debug namespaces. Without a caller logger it logs
// text to stderr, at debug level when any namespace is enabled.
func newLogger(l *slog.Logger, namespaces []string) (*logger, error) {
	enabled := make(map[string]bool, len(namespaces))
	for _, ns := range namespaces {
		if !knownNamespaces[ns] {
			return nil, fmt.Errorf("%w: %q", ErrDebugNamespace, ns)
		}
		enabled[ns] = true
	}
	if l == nil {
		level := slog.LevelInfo
		if len(enabled) > 0 {
			level = slog.LevelDebug
		}
		l = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return &logger{l: l, enabled: enabled}, nil
}

func (lg *logger) on(ns string) bool {
	return lg.enabled[ns]
}

// debug logs msg when namespace ns is enabled.
func (lg *logger) debug(ctx context.Context, ns, msg string, args ...any) {
	if !lg.on(ns) {
		return
	}
	lg.l.DebugContext(ctx, logPrefix+msg, append(args, "ns", ns)...)
}

// info logs lifecycle events when the info namespace is enabled.
func (lg *logger) info(ctx context.Context, msg string, args ...any) {
	if !lg.on(nsInfo) {
		return
	}
	lg.l.InfoContext(ctx, logPrefix+msg, args...)
}

// warn always logs.
func (lg *logger) warn(ctx context.Context, msg string, args ...any) {
	lg.l.WarnContext(ctx, logPrefix+msg, args...)
}

// query logs one store round trip. params is attached only when the
// query-params namespace is enabled.
func (lg *logger) query(ctx context.Context, op, collection string, params any, took time.Duration, err error, args ...any) {
	if !lg.on(nsQuery) {
		return
	}
	attrs := append([]any{"op", op, "collection", collection, "took", took}, args...)
	if lg.on(nsQueryParams) && params != nil {
		attrs = append(attrs, "params", encodeParams(params))
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	lg.debug(ctx, nsQuery, "query", attrs...)
}

// encodeParams renders query parameters as compact JSON.
func encodeParams(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
