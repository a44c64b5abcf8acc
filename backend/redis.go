package backend

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Namespace tells a redis instance where its region lives on the shared
// server. Data keys arrive fully formed from the caller; the namespace is
// used to derive auxiliary keys (tag indexes, stats counters) and scan
// patterns that never collide with data.
type Namespace struct {
	// OwnerPrefix is "<key prefix><owner>:".
	OwnerPrefix string
	// Region is the region segment, "t<seconds>" or "tdyn".
	Region string
}

func (n Namespace) dataPrefix() string {
	return n.OwnerPrefix + n.Region + ":"
}

func (n Namespace) tagKey(tag string) string {
	return n.OwnerPrefix + "idx:" + n.Region + ":" + tag
}

func (n Namespace) tagPattern() string {
	return globEscape(n.OwnerPrefix+"idx:"+n.Region+":") + "*"
}

func (n Namespace) statsKey(fn string) string {
	return n.OwnerPrefix + "stats:" + fn
}

func (n Namespace) statsPattern() string {
	return globEscape(n.OwnerPrefix+"stats:") + "*"
}

type redisBackend struct {
	client *redis.Client
	ns     Namespace
	cfg    config
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a networked Backend holding one region on a shared
// Redis server. Entries are stored as hashes (fields "v" for the msgpack
// value, "c" for creation time, "g" for the tag) with native TTL
// enforcement. Every operation is bounded by its own context, so unlike
// the in-process kinds there is no lifetime to parent. The caller owns
// the redis.Client lifecycle — Close is a no-op on the client.
func NewRedis(client *redis.Client, ns Namespace, opts ...Option) Backend {
	cfg := applyOptions(opts)
	return &redisBackend{
		client: client,
		ns:     ns,
		cfg:    cfg,
	}
}

func (r *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.cfg.queryTimeout)
}

func (r *redisBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	fields, err := r.client.HGetAll(qctx, key).Result()
	if err != nil {
		return Entry{}, false, err
	}
	data, ok := fields["v"]
	if !ok {
		return Entry{}, false, nil
	}
	var createdAt time.Time
	if c, err := strconv.ParseInt(fields["c"], 10, 64); err == nil {
		createdAt = time.Unix(0, c)
	}
	return Entry{Value: []byte(data), CreatedAt: createdAt, Tag: fields["g"]}, true, nil
}

func (r *redisBackend) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.cfg.defaultTTL
	}
	data, err := msgpack.Marshal(e.Value)
	if err != nil {
		return err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	pipe := r.client.Pipeline()
	pipe.HSet(qctx, key, "v", data, "c", createdAt.UnixNano(), "g", e.Tag)
	pipe.Expire(qctx, key, ttl)
	if e.Tag != "" {
		pipe.SAdd(qctx, r.ns.tagKey(e.Tag), key)
	}
	_, err = pipe.Exec(qctx)
	return err
}

func (r *redisBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	tag, _ := r.client.HGet(qctx, key, "g").Result()
	pipe := r.client.Pipeline()
	pipe.Del(qctx, key)
	if tag != "" {
		pipe.SRem(qctx, r.ns.tagKey(tag), key)
	}
	_, err := pipe.Exec(qctx)
	return err
}

func (r *redisBackend) Clear(ctx context.Context, tag string) (int, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if tag != "" {
		setKey := r.ns.tagKey(tag)
		members, err := r.client.SMembers(qctx, setKey).Result()
		if err != nil {
			return 0, err
		}
		var removed int64
		if len(members) > 0 {
			// Stale members (already expired keys) deflate the count
			// naturally since DEL reports only keys that existed.
			removed, err = r.client.Del(qctx, members...).Result()
			if err != nil {
				return 0, err
			}
		}
		if err := r.client.Del(qctx, setKey).Err(); err != nil {
			return int(removed), err
		}
		return int(removed), nil
	}

	removed, err := r.deleteByPattern(qctx, globEscape(r.ns.dataPrefix())+"*")
	if err != nil {
		return removed, err
	}
	// Tag indexes die with the data they index.
	if _, err := r.deleteByPattern(qctx, r.ns.tagPattern()); err != nil {
		return removed, err
	}
	return removed, nil
}

func (r *redisBackend) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *redisBackend) Count(ctx context.Context, prefix string) (int64, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	var n int64
	var cursor uint64
	pattern := globEscape(prefix) + "*"
	for {
		keys, next, err := r.client.Scan(qctx, cursor, pattern, 256).Result()
		if err != nil {
			return n, err
		}
		n += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

func (r *redisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	keys := make([]string, 0)
	var cursor uint64
	pattern := globEscape(prefix) + "*"
	for {
		page, next, err := r.client.Scan(qctx, cursor, pattern, 256).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *redisBackend) IncrStat(ctx context.Context, fn string, hit bool) error {
	field := "misses"
	if hit {
		field = "hits"
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	return r.client.HIncrBy(qctx, r.ns.statsKey(fn), field, 1).Err()
}

func (r *redisBackend) FnStats(ctx context.Context, fn string) (Stats, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	fields, err := r.client.HGetAll(qctx, r.ns.statsKey(fn)).Result()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	st.Hits, _ = strconv.ParseInt(fields["hits"], 10, 64)
	st.Misses, _ = strconv.ParseInt(fields["misses"], 10, 64)
	return st, nil
}

func (r *redisBackend) ResetStats(ctx context.Context, fn string) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if fn == "" {
		_, err := r.deleteByPattern(qctx, r.ns.statsPattern())
		return err
	}
	return r.client.Del(qctx, r.ns.statsKey(fn)).Err()
}

// Close is a no-op — the shared redis.Client belongs to the Manager.
func (r *redisBackend) Close() error {
	return nil
}

// globEscape escapes redis MATCH wildcards so prefixes match literally.
func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
