package funcache

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/funcache/funcache/backend"
	"github.com/funcache/funcache/logger"
)

type callOptions struct {
	skip      bool
	overwrite bool
}

// CallOption adjusts a single wrapped call.
type CallOption func(*callOptions)

// Skip bypasses caching entirely for this call: no key is derived, no
// backend is touched, no counter moves. The function runs as if it had
// never been wrapped.
func Skip() CallOption {
	return func(o *callOptions) {
		o.skip = true
	}
}

// Overwrite forces recomputation: the read step is skipped, the call
// counts as a miss, and the fresh result replaces whatever was stored.
func Overwrite() CallOption {
	return func(o *callOptions) {
		o.overwrite = true
	}
}

// Entry is a cached value with its storage timestamp, as seen by
// Validate predicates.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
}

// Age returns how long ago the entry was stored.
func (e Entry[V]) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// FuncConfig declares how one wrapped function caches. The zero value
// caches every result in the owner's default backend for DefaultTTL.
type FuncConfig[V any] struct {
	// TTL fixes the region's entry lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// DynamicTTL computes each entry's lifetime from the result after
	// invocation. Setting it places the function in the owner's
	// dynamic region regardless of TTL. A non-positive computed TTL
	// stores nothing.
	DynamicTTL func(V) time.Duration

	// Kind overrides the owner's configured backend for this function.
	Kind backend.Kind

	// Tag labels every entry this function writes, so groups of
	// functions can be invalidated together.
	Tag string

	// Exclude names argument fields that never participate in key
	// derivation, for values that vary without affecting the result.
	Exclude []string

	// CacheIf decides after each invocation whether the result is
	// worth storing. The result is returned either way.
	CacheIf func(V) bool

	// Validate decides on each read whether a stored entry may be
	// served. A rejected entry is treated as a miss and recomputed.
	Validate func(Entry[V]) bool

	// Owner overrides the owner inferred from the wrapping package.
	Owner string
}

// Func is a cached function handle. It exposes the wrapped call plus
// direct access to the entries the function owns; every operation has
// a context-carrying twin.
type Func[A, V any] struct {
	reg      *Registry
	name     string
	owner    string
	kind     backend.Kind
	ttl      time.Duration
	dynamic  func(V) time.Duration
	tag      string
	cacheIf  func(V) bool
	validate func(Entry[V]) bool
	fn       func(context.Context, A) (V, error)
	keyer    *keyer
	logger   logger.Logger
}

// Wrap registers fn under name and returns its cached handle. The args
// type A must be a struct; its exported fields form the cache key
// unless filtered out (see FuncConfig.Exclude and the `cache` tag).
// The owner and TTL are fixed here; the backend kind and key prefix
// are read from the owner's configuration on every call, so
// reconfiguring an owner reaches existing handles immediately.
//
// Wrap panics on registration mistakes: an empty name, a nil fn, a
// negative TTL, or a name already wrapped for the same owner.
func Wrap[A, V any](reg *Registry, name string, fn func(context.Context, A) (V, error), cfg FuncConfig[V]) *Func[A, V] {
	if reg == nil {
		reg = Default()
	}
	if name == "" {
		panic("funcache: Wrap requires a function name")
	}
	if fn == nil {
		panic("funcache: Wrap requires a function")
	}
	owner := cfg.Owner
	if owner == "" {
		owner = callerOwner(2)
	}
	ttl := cfg.TTL
	switch {
	case cfg.DynamicTTL != nil:
		ttl = TTLDynamic
	case ttl < 0:
		panic(fmt.Sprintf("funcache: negative TTL for %s requires a DynamicTTL function", name))
	case ttl == 0:
		ttl = DefaultTTL
	}
	namespace := owner + ":" + backend.RegionSegment(ttl) + ":" + name + ":"
	f := &Func[A, V]{
		reg:      reg,
		name:     name,
		owner:    owner,
		kind:     cfg.Kind,
		ttl:      ttl,
		dynamic:  cfg.DynamicTTL,
		tag:      cfg.Tag,
		cacheIf:  cfg.CacheIf,
		validate: cfg.Validate,
		fn:       fn,
		keyer:    newKeyer(name, namespace, reflect.TypeFor[A](), cfg.Exclude),
		logger:   reg.logger.With(map[string]interface{}{"component": "cache", "fn": name}),
	}
	reg.register(funcMeta{owner: owner, name: name, kind: cfg.Kind, ttl: ttl})
	return f
}

// Name returns the registration name.
func (f *Func[A, V]) Name() string {
	return f.name
}

// Owner returns the resolved owner.
func (f *Func[A, V]) Owner() string {
	return f.owner
}

// resolve reads the owner's configuration as of this call and returns
// the function's region plus the key prefix in force. Reconfiguration
// therefore reaches existing handles on their next call; regions
// already built keep their settings until ResetBackends.
func (f *Func[A, V]) resolve() (backend.Backend, string, error) {
	cfg := f.reg.ConfigOf(f.owner)
	kind := f.kind
	if !kind.Valid() {
		kind = cfg.Backend
	}
	b, err := f.reg.manager.Get(f.owner, kind, f.ttl, f.reg.settingsFor(f.owner, cfg))
	if err != nil {
		return nil, "", err
	}
	return b, cfg.KeyPrefix, nil
}

// resolveKey is resolve plus the full key args derive to under the
// current key prefix.
func (f *Func[A, V]) resolveKey(args A) (backend.Backend, string, error) {
	k, err := f.keyer.key(args)
	if err != nil {
		return nil, "", err
	}
	b, prefix, err := f.resolve()
	if err != nil {
		return nil, "", err
	}
	return b, prefix + k, nil
}

// Call invokes the function through the cache.
func (f *Func[A, V]) Call(args A, opts ...CallOption) (V, error) {
	return f.CallContext(context.Background(), args, opts...)
}

// CallContext invokes the function through the cache: a validated
// stored result is returned directly and counts a hit; otherwise the
// call counts a miss, fn runs, and its result is stored when CacheIf
// allows. When the registry is disabled or Skip is given, fn runs
// directly and nothing else happens.
//
// A successfully computed value is returned even when writing it to
// the backend fails; the error then reports the failed write.
func (f *Func[A, V]) CallContext(ctx context.Context, args A, opts ...CallOption) (V, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.skip || f.reg.Disabled() {
		return f.fn(ctx, args)
	}
	b, key, err := f.resolveKey(args)
	if err != nil {
		var zero V
		return zero, err
	}
	if !o.overwrite {
		v, ok, err := f.read(ctx, b, key)
		if err != nil {
			var zero V
			return zero, err
		}
		if ok {
			_ = b.IncrStat(ctx, f.name, true)
			return v, nil
		}
	}
	_ = b.IncrStat(ctx, f.name, false)
	result, err := f.fn(ctx, args)
	if err != nil {
		var zero V
		return zero, err
	}
	if f.cacheIf != nil && !f.cacheIf(result) {
		return result, nil
	}
	ttl := f.ttl
	if f.dynamic != nil {
		ttl = f.dynamic(result)
	}
	if ttl <= 0 {
		return result, nil
	}
	entry := backend.Entry{Value: result, CreatedAt: time.Now(), Tag: f.tag}
	if err := b.Set(ctx, key, entry, ttl); err != nil {
		return result, fmt.Errorf("funcache: failed to cache %s result: %w", f.name, err)
	}
	f.logger.Debug("cached %s", key)
	return result, nil
}

// read fetches and decodes the entry for key, applying Validate. A
// rejected or absent entry reports ok false.
func (f *Func[A, V]) read(ctx context.Context, b backend.Backend, key string) (V, bool, error) {
	var zero V
	e, found, err := b.Get(ctx, key)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := decodeValue[V](e.Value)
	if err != nil {
		return zero, false, err
	}
	if f.validate != nil && !f.validate(Entry[V]{Value: v, CreatedAt: e.CreatedAt}) {
		return zero, false, nil
	}
	return v, true, nil
}

// Get returns the stored result for args without ever invoking the
// function.
func (f *Func[A, V]) Get(args A) (V, error) {
	return f.GetContext(context.Background(), args)
}

// GetContext returns the stored result for args, or an error wrapping
// ErrKeyNotFound when there is none. Counters do not move.
func (f *Func[A, V]) GetContext(ctx context.Context, args A) (V, error) {
	v, ok, err := f.LookupContext(ctx, args)
	if err != nil {
		return v, err
	}
	if !ok {
		key, _ := f.Key(args)
		return v, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

// Lookup is Get with a found flag instead of an error for absence.
func (f *Func[A, V]) Lookup(args A) (V, bool, error) {
	return f.LookupContext(context.Background(), args)
}

// LookupContext returns the stored result for args and whether one was
// found. Validate applies, so a rejected entry reads as absent.
func (f *Func[A, V]) LookupContext(ctx context.Context, args A) (V, bool, error) {
	b, key, err := f.resolveKey(args)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return f.read(ctx, b, key)
}

// Set stores value as the result for args without invoking the
// function.
func (f *Func[A, V]) Set(args A, value V) error {
	return f.SetContext(context.Background(), args, value)
}

// SetContext stores value under the key derived from args, with the
// TTL the wrapped call would have used. Counters do not move.
func (f *Func[A, V]) SetContext(ctx context.Context, args A, value V) error {
	b, key, err := f.resolveKey(args)
	if err != nil {
		return err
	}
	ttl := f.ttl
	if f.dynamic != nil {
		ttl = f.dynamic(value)
	}
	if ttl <= 0 {
		return nil
	}
	return b.Set(ctx, key, backend.Entry{Value: value, CreatedAt: time.Now(), Tag: f.tag}, ttl)
}

// Invalidate removes the stored result for args.
func (f *Func[A, V]) Invalidate(args A) error {
	return f.InvalidateContext(context.Background(), args)
}

// InvalidateContext removes the stored result for args. Absent entries
// are not an error.
func (f *Func[A, V]) InvalidateContext(ctx context.Context, args A) error {
	b, key, err := f.resolveKey(args)
	if err != nil {
		return err
	}
	return b.Delete(ctx, key)
}

// Refresh recomputes the result for args unconditionally.
func (f *Func[A, V]) Refresh(args A) (V, error) {
	return f.RefreshContext(context.Background(), args)
}

// RefreshContext invalidates the stored result for args and reruns the
// wrapped call with recomputation forced, so refresh counts a miss and
// never serves an entry written in between.
func (f *Func[A, V]) RefreshContext(ctx context.Context, args A) (V, error) {
	if err := f.InvalidateContext(ctx, args); err != nil {
		var zero V
		return zero, err
	}
	return f.CallContext(ctx, args, Overwrite())
}

// Original invokes the underlying function directly, without touching
// cache or counters.
func (f *Func[A, V]) Original(args A) (V, error) {
	return f.fn(context.Background(), args)
}

// OriginalContext invokes the underlying function directly.
func (f *Func[A, V]) OriginalContext(ctx context.Context, args A) (V, error) {
	return f.fn(ctx, args)
}

// Stats returns the function's counters and live entry count.
func (f *Func[A, V]) Stats() (Stats, error) {
	return f.StatsContext(context.Background())
}

// StatsContext returns hits and misses from wherever the backend keeps
// them, and the live entry count measured now.
func (f *Func[A, V]) StatsContext(ctx context.Context) (Stats, error) {
	b, prefix, err := f.resolve()
	if err != nil {
		return Stats{}, err
	}
	bs, err := b.FnStats(ctx, f.name)
	if err != nil {
		return Stats{}, err
	}
	size, err := b.Count(ctx, prefix+f.keyer.prefix)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Hits: bs.Hits, Misses: bs.Misses, Size: size}, nil
}

// ResetStats zeroes the function's hit and miss counters. Stored
// entries are untouched.
func (f *Func[A, V]) ResetStats() error {
	return f.ResetStatsContext(context.Background())
}

// ResetStatsContext zeroes the function's counters.
func (f *Func[A, V]) ResetStatsContext(ctx context.Context) error {
	b, _, err := f.resolve()
	if err != nil {
		return err
	}
	return b.ResetStats(ctx, f.name)
}

// Keys lists the function's live cache keys.
func (f *Func[A, V]) Keys() ([]string, error) {
	return f.KeysContext(context.Background())
}

// KeysContext lists the function's live cache keys.
func (f *Func[A, V]) KeysContext(ctx context.Context) ([]string, error) {
	b, prefix, err := f.resolve()
	if err != nil {
		return nil, err
	}
	return b.Keys(ctx, prefix+f.keyer.prefix)
}

// Key returns the cache key the given args derive to under the owner's
// current configuration, for diagnostics and external tooling.
func (f *Func[A, V]) Key(args A) (string, error) {
	k, err := f.keyer.key(args)
	if err != nil {
		return "", err
	}
	return f.reg.ConfigOf(f.owner).KeyPrefix + k, nil
}

// decodeValue converts a stored value back to V. In-process backends
// hand back the live value; serialized backends hand back msgpack
// bytes.
func decodeValue[V any](val any) (V, error) {
	if typed, ok := val.(V); ok {
		return typed, nil
	}
	if data, ok := val.([]byte); ok {
		var out V
		if err := msgpack.Unmarshal(data, &out); err != nil {
			var zero V
			return zero, fmt.Errorf("funcache: failed to unmarshal cached value: %w", err)
		}
		return out, nil
	}
	var zero V
	return zero, fmt.Errorf("funcache: cannot convert cached value of type %T to %T", val, zero)
}
