package types

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Config holds backend selection and parameters for Store.Attach.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir"` // sqlite: root directory holding databases.
	DSN     string `json:"dsn" yaml:"dsn"`           // postgres: connection string.
	DBName  string `json:"db_name" yaml:"db_name"`   // Logical database inside the backend.
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultDBName is used when Config.DBName is empty.
const DefaultDBName = "shelf"

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrDSNEmpty       = errors.New("dsn must not be empty for postgres backend")
	ErrDBNameInvalid  = errors.New("invalid database name")
	ErrClientURL      = errors.New("invalid client URL")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendPostgres && c.DSN == "" {
		return ErrDSNEmpty
	}
	if c.DBName != "" && !ValidCollectionName(c.DBName) {
		return ErrDBNameInvalid
	}
	return nil
}

// Database returns the effective database name.
func (c Config) Database() string {
	if c.DBName == "" {
		return DefaultDBName
	}
	return c.DBName
}

// ParseClientURL converts a connection endpoint into a Config.
//
//	sqlite:///var/lib/shelf      -> sqlite backend rooted at /var/lib/shelf
//	postgres://user@host/db      -> postgres backend with the URL as DSN
//	postgresql://user@host/db    -> same as postgres://
//
// The database name is left empty; callers set it separately.
func ParseClientURL(raw string) (Config, error) {
	if raw == "" {
		return Config{}, fmt.Errorf("%w: empty", ErrClientURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrClientURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case BackendSQLite:
		dir := u.Path
		if u.Host != "" {
			// sqlite://relative/dir
			dir = u.Host + u.Path
		}
		if dir == "" {
			return Config{}, fmt.Errorf("%w: missing data directory", ErrClientURL)
		}
		return Config{Backend: BackendSQLite, DataDir: filepath.Clean(dir)}, nil
	case "postgres", "postgresql":
		return Config{Backend: BackendPostgres, DSN: raw}, nil
	default:
		return Config{}, fmt.Errorf("%w: unsupported scheme %q", ErrClientURL, u.Scheme)
	}
}
