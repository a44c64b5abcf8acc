package funcache

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/funcache/funcache/backend"
)

const (
	// DefaultTTL is the region TTL used when a wrapped function does
	// not specify one.
	DefaultTTL = backend.DefaultTTL

	// TTLDynamic marks a region whose entries receive per-value TTLs
	// computed from the result after each invocation.
	TTLDynamic = backend.TTLDynamic
)

// Config is one owner's caching configuration. Owners inherit the
// registry defaults for any field left at its zero value, so a Config
// only needs to spell out what differs.
type Config struct {
	// Backend selects where this owner's regions live. Zero falls back
	// to the registry default (memory out of the box).
	Backend backend.Kind

	// KeyPrefix namespaces every derived key ahead of the owner
	// segment. Distinct prefixes keep multiple deployments apart on a
	// shared redis.
	KeyPrefix string

	// FileDir is the directory file regions keep their databases in.
	// It must exist when set explicitly; the default directory is
	// created on demand.
	FileDir string

	// RedisURL connects networked regions, e.g.
	// "redis://localhost:6379/0".
	RedisURL string

	// QueryTimeout bounds individual backend operations.
	QueryTimeout time.Duration

	// ExpiryCheck is how often persistent backends sweep expired rows.
	ExpiryCheck time.Duration

	// FileRetries bounds write retries when a file region reports the
	// database busy under concurrent writers.
	FileRetries int

	RedisMaxRetries   int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
}

// DefaultConfig returns the process defaults: in-process memory
// regions, no key prefix, and file databases under the user cache
// directory.
func DefaultConfig() Config {
	return Config{
		Backend:      backend.Memory,
		FileDir:      defaultFileDir(),
		QueryTimeout: backend.DefaultQueryTimeout,
		ExpiryCheck:  backend.DefaultExpiryCheck,
	}
}

func defaultFileDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}

// validate rejects configurations that would only fail later, at first
// use of a region.
func (c Config) validate() error {
	if c.Backend != 0 && !c.Backend.Valid() {
		return fmt.Errorf("funcache: invalid backend kind %d", c.Backend)
	}
	if c.FileDir != "" {
		info, err := os.Stat(c.FileDir)
		if err != nil {
			return fmt.Errorf("funcache: file_dir %s: %w", c.FileDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("funcache: file_dir %s is not a directory", c.FileDir)
		}
	}
	if c.Backend == backend.Redis && c.RedisURL == "" {
		return fmt.Errorf("funcache: redis backend requires a redis_url")
	}
	if c.RedisURL != "" {
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			return fmt.Errorf("funcache: invalid redis url: %w", err)
		}
	}
	for _, d := range []time.Duration{c.QueryTimeout, c.ExpiryCheck, c.RedisDialTimeout, c.RedisReadTimeout, c.RedisWriteTimeout} {
		if d < 0 {
			return fmt.Errorf("funcache: durations must not be negative")
		}
	}
	if c.FileRetries < 0 {
		return fmt.Errorf("funcache: file_retries must not be negative")
	}
	if c.RedisMaxRetries < 0 {
		return fmt.Errorf("funcache: redis_max_retries must not be negative")
	}
	return nil
}

// merge overlays the set fields of over onto base and returns the
// result. Zero values in over never erase base values.
func merge(base, over Config) Config {
	out := base
	if over.Backend != 0 {
		out.Backend = over.Backend
	}
	if over.KeyPrefix != "" {
		out.KeyPrefix = over.KeyPrefix
	}
	if over.FileDir != "" {
		out.FileDir = over.FileDir
	}
	if over.RedisURL != "" {
		out.RedisURL = over.RedisURL
	}
	if over.QueryTimeout > 0 {
		out.QueryTimeout = over.QueryTimeout
	}
	if over.ExpiryCheck > 0 {
		out.ExpiryCheck = over.ExpiryCheck
	}
	if over.FileRetries > 0 {
		out.FileRetries = over.FileRetries
	}
	if over.RedisMaxRetries > 0 {
		out.RedisMaxRetries = over.RedisMaxRetries
	}
	if over.RedisDialTimeout > 0 {
		out.RedisDialTimeout = over.RedisDialTimeout
	}
	if over.RedisReadTimeout > 0 {
		out.RedisReadTimeout = over.RedisReadTimeout
	}
	if over.RedisWriteTimeout > 0 {
		out.RedisWriteTimeout = over.RedisWriteTimeout
	}
	return out
}
