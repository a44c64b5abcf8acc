package funcache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/funcache/funcache/backend"
	"github.com/funcache/funcache/logger"
)

// funcMeta records a wrapped function's identity so registry-wide
// operations can reach regions that no call has touched yet. kind is
// the wrap-time override; zero means the owner's configured backend.
type funcMeta struct {
	owner string
	name  string
	kind  backend.Kind
	ttl   time.Duration
}

// Registry holds owner configurations, the process-wide disable
// switch, and the backend instances behind every wrapped function.
// Most programs use the package-level Default registry; tests and
// multi-tenant setups construct their own with New.
type Registry struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   logger.Logger
	manager  *backend.Manager
	disabled atomic.Bool

	mutex    sync.RWMutex
	defaults Config
	owners   map[string]Config
	funcs    []funcMeta
}

type registryOptions struct {
	ctx    context.Context
	logger logger.Logger
}

// RegistryOption customizes New.
type RegistryOption func(*registryOptions)

// WithLogger sets the logger the registry and its backends log
// through.
func WithLogger(l logger.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = l
	}
}

// WithContext parents the registry's lifetime to ctx. Cancelling ctx
// stops background sweeps; Close still releases backend handles.
func WithContext(ctx context.Context) RegistryOption {
	return func(o *registryOptions) {
		o.ctx = ctx
	}
}

// New creates an empty registry with built-in defaults. Setting
// FUNCACHE_DISABLE to a truthy value starts the registry disabled.
func New(opts ...RegistryOption) *Registry {
	ro := registryOptions{
		ctx:    context.Background(),
		logger: logger.NewConsoleLogger(),
	}
	for _, opt := range opts {
		opt(&ro)
	}
	ctx, cancel := context.WithCancel(ro.ctx)
	r := &Registry{
		ctx:      ctx,
		cancel:   cancel,
		logger:   ro.logger,
		manager:  backend.NewManager(ctx, ro.logger),
		defaults: DefaultConfig(),
		owners:   make(map[string]Config),
	}
	if v := os.Getenv(EnvDisable); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil && disabled {
			r.disabled.Store(true)
		}
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return New()
})

// Default returns the shared process-wide registry, creating it on
// first use.
func Default() *Registry {
	return defaultRegistry()
}

// Configure installs cfg for owner, merged over the registry defaults
// at read time. The empty owner replaces the defaults themselves.
// Owners with live wrapped functions pick the new configuration up on
// their next call; regions already built keep their settings until
// ResetBackends.
func (r *Registry) Configure(owner string, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if owner == "" {
		r.defaults = merge(DefaultConfig(), cfg)
		return nil
	}
	r.owners[owner] = cfg
	return nil
}

// ConfigOf returns owner's effective configuration: the registry
// defaults overlaid with any fields the owner set.
func (r *Registry) ConfigOf(owner string) Config {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return merge(r.defaults, r.owners[owner])
}

// Configs returns a snapshot of every effective configuration. The
// defaults appear under the empty owner.
func (r *Registry) Configs() map[string]Config {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make(map[string]Config, len(r.owners)+1)
	out[""] = r.defaults
	for owner, cfg := range r.owners {
		out[owner] = merge(r.defaults, cfg)
	}
	return out
}

// Disable turns all caching off process-wide. Wrapped calls invoke
// their functions directly, touching neither backends nor counters,
// until Enable is called.
func (r *Registry) Disable() {
	r.disabled.Store(true)
}

// Enable turns caching back on after Disable.
func (r *Registry) Enable() {
	r.disabled.Store(false)
}

// Disabled reports whether the registry is currently disabled.
func (r *Registry) Disabled() bool {
	return r.disabled.Load()
}

// ResetBackends closes every backend instance and redis client and
// forgets them. The next call through any handle rebuilds its region
// lazily; persistent regions come back with their stored entries and
// counters.
func (r *Registry) ResetBackends() error {
	return r.manager.Reset()
}

// CleanupExpired removes expired rows from every live persistent
// region and returns how many were purged.
func (r *Registry) CleanupExpired(ctx context.Context) (int64, error) {
	return r.manager.CleanupExpired(ctx)
}

// Close stops background sweeps and releases every backend handle. The
// registry is not usable afterwards.
func (r *Registry) Close() error {
	r.cancel()
	return r.manager.Reset()
}

// Logger returns the registry's logger.
func (r *Registry) Logger() logger.Logger {
	return r.logger
}

// register records a wrapped function. Registering the same name twice
// for one owner is a programming error.
func (r *Registry) register(meta funcMeta) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, m := range r.funcs {
		if m.owner == meta.owner && m.name == meta.name {
			panic(fmt.Sprintf("funcache: function %q already registered for owner %q", meta.name, meta.owner))
		}
	}
	r.funcs = append(r.funcs, meta)
}

// registered returns a snapshot of all wrapped function metadata.
func (r *Registry) registered() []funcMeta {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]funcMeta, len(r.funcs))
	copy(out, r.funcs)
	return out
}

// settingsFor translates an owner's effective configuration into the
// backend settings its regions are built with.
func (r *Registry) settingsFor(owner string, cfg Config) backend.Settings {
	return backend.Settings{
		OwnerPrefix:       cfg.KeyPrefix + owner + ":",
		FileDir:           cfg.FileDir,
		RedisURL:          cfg.RedisURL,
		QueryTimeout:      cfg.QueryTimeout,
		ExpiryCheck:       cfg.ExpiryCheck,
		FileRetries:       cfg.FileRetries,
		RedisMaxRetries:   cfg.RedisMaxRetries,
		RedisDialTimeout:  cfg.RedisDialTimeout,
		RedisReadTimeout:  cfg.RedisReadTimeout,
		RedisWriteTimeout: cfg.RedisWriteTimeout,
	}
}

// Configure installs cfg for owner on the default registry.
func Configure(owner string, cfg Config) error {
	return Default().Configure(owner, cfg)
}

// Disable turns all caching off on the default registry.
func Disable() {
	Default().Disable()
}

// Enable turns caching back on for the default registry.
func Enable() {
	Default().Enable()
}

// Disabled reports whether the default registry is disabled.
func Disabled() bool {
	return Default().Disabled()
}

// Clear applies req against the default registry.
func Clear(req ClearRequest) (int, error) {
	return Default().Clear(req)
}

// ResetBackends resets the default registry's backend instances.
func ResetBackends() error {
	return Default().ResetBackends()
}
