package oplog

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// LogFactory builds a Log from a DSN. External packages may register extra
// schemes before building.
type LogFactory func(dsn string) (Log, error)

var logFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]LogFactory
}{
	factories: map[string]LogFactory{},
}

func RegisterLogFactory(scheme string, factory LogFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	logFactoryRegistry.mu.Lock()
	defer logFactoryRegistry.mu.Unlock()
	logFactoryRegistry.factories[scheme] = factory
}

func lookupLogFactory(scheme string) (LogFactory, bool) {
	scheme = normalizeScheme(scheme)
	logFactoryRegistry.mu.RLock()
	defer logFactoryRegistry.mu.RUnlock()
	factory, ok := logFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildLogFromDSN picks a Log implementation by DSN scheme. A bare path or
// file:// DSN means the JSON file log; postgres:// means the shared Postgres
// log; memory:// is for tests and dry runs.
func BuildLogFromDSN(dsn string) (Log, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupLogFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		return NewFileLog(dsnPath(parsed, dsn))
	case "memory", "mem", "inmem":
		return NewMemoryLog(), nil
	case "postgres", "postgresql":
		return NewPostgresLog(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: operation log %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported operation log scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, dsn string) string {
	if parsed.Scheme == "" {
		return dsn
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if parsed.Opaque != "" {
		path = parsed.Opaque
	}
	return path
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
