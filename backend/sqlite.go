package backend

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
	retry     retryConfig
}

var _ Backend = (*sqliteBackend)(nil)
var _ Cleaner = (*sqliteBackend)(nil)

// NewSQLite returns a file-backed Backend using SQLite. If dbPath is
// empty or ":memory:", an in-memory database is used. Values are
// serialized with msgpack and stored as BLOBs. Expired entries are
// dropped lazily on read and purged by a background goroutine at the
// configured interval.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Backend, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	cfg := applyOptions(opts)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrent performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_tag ON cache(tag)`,
		`CREATE TABLE IF NOT EXISTS cache_stats (
			name TEXT PRIMARY KEY,
			hits INTEGER NOT NULL DEFAULT 0,
			misses INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}

	retry := defaultRetryConfig()
	if cfg.fileRetries > 0 {
		retry.maxRetries = cfg.fileRetries
	}

	childCtx, cancel := context.WithCancel(ctx)
	s := &sqliteBackend{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
		retry:  retry,
	}

	s.waitGroup.Add(1)
	go s.run()

	return s, nil
}

func (s *sqliteBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *sqliteBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var data []byte
	var tag string
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(qctx,
		`SELECT value, tag, created_at, expires_at FROM cache WHERE key = ?`, key,
	).Scan(&data, &tag, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if expiresAt < now {
		// Lazily delete the expired entry.
		_, _ = s.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
		return Entry{}, false, nil
	}
	return Entry{Value: data, CreatedAt: time.Unix(0, createdAt), Tag: tag}, true, nil
}

func (s *sqliteBackend) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.defaultTTL
	}
	data, err := msgpack.Marshal(e.Value)
	if err != nil {
		return err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	expiresAt := time.Now().Add(ttl).UnixNano()
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.withBusyRetry(qctx, func() error {
		_, err := s.db.ExecContext(qctx,
			`INSERT INTO cache (key, value, tag, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, tag = excluded.tag,
				created_at = excluded.created_at, expires_at = excluded.expires_at`,
			key, data, e.Tag, createdAt.UnixNano(), expiresAt,
		)
		return err
	})
}

func (s *sqliteBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.withBusyRetry(qctx, func() error {
		_, err := s.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
		return err
	})
}

func (s *sqliteBackend) Clear(ctx context.Context, tag string) (int, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var result sql.Result
	err := s.withBusyRetry(qctx, func() error {
		var err error
		if tag == "" {
			result, err = s.db.ExecContext(qctx, `DELETE FROM cache`)
		} else {
			result, err = s.db.ExecContext(qctx, `DELETE FROM cache WHERE tag = ?`, tag)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *sqliteBackend) Count(ctx context.Context, prefix string) (int64, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var n int64
	err := s.db.QueryRowContext(qctx,
		`SELECT COUNT(*) FROM cache WHERE key LIKE ? ESCAPE '\' AND expires_at >= ?`,
		escapeLike(prefix)+"%", now,
	).Scan(&n)
	return n, err
}

func (s *sqliteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	rows, err := s.db.QueryContext(qctx,
		`SELECT key FROM cache WHERE key LIKE ? ESCAPE '\' AND expires_at >= ? ORDER BY key`,
		escapeLike(prefix)+"%", now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *sqliteBackend) IncrStat(ctx context.Context, fn string, hit bool) error {
	column := "misses"
	if hit {
		column = "hits"
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.withBusyRetry(qctx, func() error {
		_, err := s.db.ExecContext(qctx,
			`INSERT INTO cache_stats (name, `+column+`) VALUES (?, 1)
			ON CONFLICT(name) DO UPDATE SET `+column+` = `+column+` + 1`,
			fn,
		)
		return err
	})
}

func (s *sqliteBackend) FnStats(ctx context.Context, fn string) (Stats, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var st Stats
	err := s.db.QueryRowContext(qctx,
		`SELECT hits, misses FROM cache_stats WHERE name = ?`, fn,
	).Scan(&st.Hits, &st.Misses)
	if err == sql.ErrNoRows {
		return Stats{}, nil
	}
	return st, err
}

func (s *sqliteBackend) ResetStats(ctx context.Context, fn string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.withBusyRetry(qctx, func() error {
		var err error
		if fn == "" {
			_, err = s.db.ExecContext(qctx, `DELETE FROM cache_stats`)
		} else {
			_, err = s.db.ExecContext(qctx, `DELETE FROM cache_stats WHERE name = ?`, fn)
		}
		return err
	})
}

// CleanupExpired removes every entry past its expiry and returns how
// many were dropped.
func (s *sqliteBackend) CleanupExpired(ctx context.Context) (int64, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var result sql.Result
	err := s.withBusyRetry(qctx, func() error {
		var err error
		result, err = s.db.ExecContext(qctx, `DELETE FROM cache WHERE expires_at < ?`, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *sqliteBackend) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *sqliteBackend) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = s.db.Exec(`DELETE FROM cache WHERE expires_at < ?`, now)
		}
	}
}

// escapeLike escapes LIKE wildcards so key prefixes match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
