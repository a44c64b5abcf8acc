package backend

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies a storage variant. The zero value is invalid so that
// configuration can distinguish "unset" from an explicit choice.
type Kind uint8

const (
	kindNone Kind = iota
	// Memory is an in-process map. Fastest, no serialization, lost on restart.
	Memory
	// File is a SQLite database on disk, one file per region.
	File
	// Redis is a shared networked store with native TTL enforcement.
	Redis
	// Null stores nothing: every read misses, every write is discarded.
	Null
)

// Kinds lists the valid storage variants in declaration order.
var Kinds = []Kind{Memory, File, Redis, Null}

func (k Kind) String() string {
	switch k {
	case Memory:
		return "memory"
	case File:
		return "file"
	case Redis:
		return "redis"
	case Null:
		return "null"
	}
	return ""
}

// Valid reports whether k names one of the four storage variants.
func (k Kind) Valid() bool {
	return k >= Memory && k <= Null
}

// ParseKind converts a backend name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "memory":
		return Memory, nil
	case "file":
		return File, nil
	case "redis":
		return Redis, nil
	case "null":
		return Null, nil
	}
	return kindNone, fmt.Errorf("backend must be one of memory, file, redis, null (got %q)", s)
}

// MarshalText implements encoding.TextMarshaler so Kind round-trips
// through YAML and flag values.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid backend kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// TTLDynamic marks a region whose entries carry individually computed
// expiries instead of one fixed duration.
const TTLDynamic time.Duration = -1

// Entry is a stored value with its metadata. Value holds the live object
// for in-process storage and serialized bytes ([]byte) for file and
// networked storage.
type Entry struct {
	Value     any
	CreatedAt time.Time
	Tag       string
}

// Stats are the persisted per-function counters.
type Stats struct {
	Hits   int64
	Misses int64
}

// Backend is the storage contract. One Backend instance holds one region:
// all entries of one owner sharing one kind and one TTL. Implementations
// enforce expiry themselves; callers never see expired entries.
type Backend interface {
	// Get returns the entry stored under key, if any.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores an entry under key with the given TTL, replacing any
	// previous entry. The write is atomic: readers see the old entry or
	// the new one, never a partial state.
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	// Delete removes a key. Absent keys are not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes entries: all of them, or only those carrying tag when
	// tag is non-empty. Returns the number removed (best effort for
	// networked storage).
	Clear(ctx context.Context, tag string) (int, error)
	// Count returns the number of live entries whose key starts with prefix.
	Count(ctx context.Context, prefix string) (int64, error)
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// IncrStat bumps the hit or miss counter for a function name.
	IncrStat(ctx context.Context, fn string, hit bool) error
	// FnStats reads the counters for a function name.
	FnStats(ctx context.Context, fn string) (Stats, error)
	// ResetStats zeroes the counters for fn, or for every function when
	// fn is empty. Clearing entries never resets counters.
	ResetStats(ctx context.Context, fn string) error
	// Close releases the instance's resources.
	Close() error
}

// Cleaner is implemented by instances that can purge expired entries on
// demand, outside their background sweep.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// DefaultTTL is the fallback entry TTL used when Set receives a
// non-positive duration.
const DefaultTTL = 5 * time.Minute

// DefaultQueryTimeout bounds each operation on I/O-backed instances so a
// slow database or server cannot hang callers indefinitely.
const DefaultQueryTimeout = 5 * time.Second

// DefaultExpiryCheck is how often background cleanup runs for the memory
// and file variants.
const DefaultExpiryCheck = time.Minute

// config holds the resolved configuration for a Backend implementation.
type config struct {
	defaultTTL   time.Duration
	queryTimeout time.Duration
	expiryCheck  time.Duration
	fileRetries  int
}

// Option configures a Backend implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:   DefaultTTL,
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  DefaultExpiryCheck,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.defaultTTL <= 0 {
		cfg.defaultTTL = DefaultTTL
	}
	if cfg.queryTimeout <= 0 {
		cfg.queryTimeout = DefaultQueryTimeout
	}
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = DefaultExpiryCheck
	}
	return cfg
}

// WithDefaultTTL sets the TTL used when Set is called with a
// non-positive duration. Defaults to DefaultTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed
// instances (file, redis). Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired-entry cleanup
// in the memory and file variants. Defaults to DefaultExpiryCheck.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithFileRetries sets how many times file-region writes retry when the
// database reports busy under concurrent writers.
func WithFileRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.fileRetries = n
		}
	}
}
