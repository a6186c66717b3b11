package docstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Dir       string // file backend root, sqlite default location
	Path      string // sqlite database file
	RedisURL  string
	Namespace string
}

// Open returns the store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = filepath.Join(opts.Dir, "switchyard.db")
		}
		return OpenSQLite(path)
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires a redis url")
		}
		return OpenRedis(ctx, opts.RedisURL, opts.Namespace)
	default:
		return nil, fmt.Errorf("unknown store backend %q (use file, sqlite or redis)", opts.Backend)
	}
}

// IsQuarantineKey reports whether key names a quarantined copy.
func IsQuarantineKey(key string) bool {
	return strings.Contains(key, ".corrupt-")
}
