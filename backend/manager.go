package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/funcache/funcache/logger"
)

// RegionSegment renders a region TTL as its key segment: "t300" for five
// minutes, "tdyn" for dynamic regions.
func RegionSegment(ttl time.Duration) string {
	if ttl == TTLDynamic {
		return "tdyn"
	}
	return "t" + strconv.FormatInt(int64(ttl/time.Second), 10)
}

// Settings is the per-owner recipe for building new instances. The
// manager only consults it when a region is first used.
type Settings struct {
	// OwnerPrefix is "<key prefix><owner>:", the redis namespace root.
	OwnerPrefix string
	// FileDir is where file regions keep their databases.
	FileDir string
	// RedisURL connects networked regions, in redis://host:port/db form.
	RedisURL string

	QueryTimeout time.Duration
	ExpiryCheck  time.Duration
	FileRetries  int

	RedisMaxRetries   int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
}

// Instance couples a live Backend with the region it serves.
type Instance struct {
	Owner   string
	Kind    Kind
	TTL     time.Duration
	Backend Backend
}

type instanceKey struct {
	owner string
	kind  Kind
	ttl   time.Duration
}

// Manager owns the backend instances of a process, one per
// (owner, kind, TTL) region, created lazily on first use. Networked
// instances share one redis client per URL.
type Manager struct {
	ctx       context.Context
	logger    logger.Logger
	mutex     sync.RWMutex
	instances map[instanceKey]Backend
	clients   map[string]*redis.Client
}

// NewManager returns an empty Manager. Instance lifecycles (janitor
// goroutines, database handles) are bound to ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	return &Manager{
		ctx:       ctx,
		logger:    l.With(map[string]interface{}{"component": "backend"}),
		instances: make(map[instanceKey]Backend),
		clients:   make(map[string]*redis.Client),
	}
}

// Get returns the instance serving (owner, kind, ttl), building it from
// st on first use.
func (m *Manager) Get(owner string, kind Kind, ttl time.Duration, st Settings) (Backend, error) {
	key := instanceKey{owner: owner, kind: kind, ttl: ttl}
	m.mutex.RLock()
	b, ok := m.instances[key]
	m.mutex.RUnlock()
	if ok {
		return b, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if b, ok := m.instances[key]; ok {
		return b, nil
	}
	b, err := m.build(owner, kind, ttl, st)
	if err != nil {
		return nil, err
	}
	m.instances[key] = b
	m.logger.Debug("created %s region for %s (%s)", kind, owner, RegionSegment(ttl))
	return b, nil
}

func (m *Manager) build(owner string, kind Kind, ttl time.Duration, st Settings) (Backend, error) {
	opts := make([]Option, 0, 3)
	if st.QueryTimeout > 0 {
		opts = append(opts, WithQueryTimeout(st.QueryTimeout))
	}
	if st.ExpiryCheck > 0 {
		opts = append(opts, WithExpiryCheck(st.ExpiryCheck))
	}
	if ttl > 0 {
		opts = append(opts, WithDefaultTTL(ttl))
	}
	switch kind {
	case Memory:
		return NewMemory(m.ctx, opts...), nil
	case File:
		if err := os.MkdirAll(st.FileDir, 0o755); err != nil {
			return nil, fmt.Errorf("cache directory: %w", err)
		}
		if st.FileRetries > 0 {
			opts = append(opts, WithFileRetries(st.FileRetries))
		}
		path := filepath.Join(st.FileDir, RegionFileName(owner, ttl))
		return NewSQLite(m.ctx, path, opts...)
	case Redis:
		client, err := m.clientLocked(st)
		if err != nil {
			return nil, err
		}
		ns := Namespace{OwnerPrefix: st.OwnerPrefix, Region: RegionSegment(ttl)}
		return NewRedis(client, ns, opts...), nil
	case Null:
		return NewNull(), nil
	}
	return nil, fmt.Errorf("backend must be one of memory, file, redis, null (got kind %d)", kind)
}

// clientLocked returns the shared client for a redis URL, dialing it on
// first use. Callers hold the write lock.
func (m *Manager) clientLocked(st Settings) (*redis.Client, error) {
	if client, ok := m.clients[st.RedisURL]; ok {
		return client, nil
	}
	ropts, err := redis.ParseURL(st.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if st.RedisMaxRetries > 0 {
		ropts.MaxRetries = st.RedisMaxRetries
	}
	if st.RedisDialTimeout > 0 {
		ropts.DialTimeout = st.RedisDialTimeout
	}
	if st.RedisReadTimeout > 0 {
		ropts.ReadTimeout = st.RedisReadTimeout
	}
	if st.RedisWriteTimeout > 0 {
		ropts.WriteTimeout = st.RedisWriteTimeout
	}
	client := redis.NewClient(ropts)
	m.clients[st.RedisURL] = client
	m.logger.Debug("created redis client for %s", maskURL(st.RedisURL))
	return client, nil
}

// mask replaces the tail half of a string with asterisks.
func mask(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// maskURL hides userinfo credentials in a redis URL so it is safe to
// log. The host, database path and options stay visible. A value that
// does not parse is masked whole.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return mask(raw)
	}
	if u.User == nil {
		return raw
	}
	var str strings.Builder
	str.WriteString(u.Scheme)
	str.WriteString("://")
	str.WriteString(mask(u.User.Username()))
	if pass, ok := u.User.Password(); ok {
		str.WriteString(":")
		str.WriteString(mask(pass))
	}
	str.WriteString("@")
	str.WriteString(u.Host)
	str.WriteString(u.Path)
	if u.RawQuery != "" {
		str.WriteString("?")
		str.WriteString(u.RawQuery)
	}
	return str.String()
}

// Instances returns a snapshot of every live instance.
func (m *Manager) Instances() []Instance {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]Instance, 0, len(m.instances))
	for key, b := range m.instances {
		out = append(out, Instance{Owner: key.owner, Kind: key.kind, TTL: key.ttl, Backend: b})
	}
	return out
}

// CleanupExpired purges expired entries from every instance that
// supports on-demand cleanup and returns the total removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	var total int64
	var errs []error
	for _, inst := range m.Instances() {
		cleaner, ok := inst.Backend.(Cleaner)
		if !ok {
			continue
		}
		n, err := cleaner.CleanupExpired(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Reset closes every instance and shared client and forgets them. The
// next use of any region reconnects from scratch.
func (m *Manager) Reset() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var errs []error
	for _, b := range m.instances {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, client := range m.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.instances = make(map[instanceKey]Backend)
	m.clients = make(map[string]*redis.Client)
	return errors.Join(errs...)
}

// FileRegions returns the database paths of owner's file regions under
// dir, one per TTL, including regions written by other processes.
func FileRegions(dir, owner string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, sanitizeOwner(owner)+"_cache*.db"))
}

// RegionFileName names the database file for a file region. Each
// region gets its own file so TTL isolation holds on disk. A unit is
// used only when the TTL divides into it evenly, so distinct TTLs never
// share a name (90s stays "90sec", not "1min").
func RegionFileName(owner string, ttl time.Duration) string {
	var suffix string
	switch {
	case ttl == TTLDynamic:
		suffix = "dyn"
	case ttl >= time.Hour && ttl%time.Hour == 0:
		suffix = strconv.FormatInt(int64(ttl/time.Hour), 10) + "hour"
	case ttl >= time.Minute && ttl%time.Minute == 0:
		suffix = strconv.FormatInt(int64(ttl/time.Minute), 10) + "min"
	default:
		suffix = strconv.FormatInt(int64(ttl/time.Second), 10) + "sec"
	}
	return sanitizeOwner(owner) + "_cache" + suffix + ".db"
}

var ownerSanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")

func sanitizeOwner(owner string) string {
	return ownerSanitizer.Replace(owner)
}
