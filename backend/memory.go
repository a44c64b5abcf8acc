package backend

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     any
	createdAt time.Time
	expires   time.Time
	tag       string
}

type memoryBackend struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*memoryEntry
	byTag     map[string]map[string]struct{}
	stats     map[string]*Stats
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Backend = (*memoryBackend)(nil)

// NewMemory returns an in-process Backend. Values are stored as-is with
// no serialization. A background goroutine sweeps expired entries at the
// configured interval until Close or the parent context ends.
func NewMemory(parent context.Context, opts ...Option) Backend {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	m := &memoryBackend{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*memoryEntry),
		byTag:   make(map[string]map[string]struct{}),
		stats:   make(map[string]*Stats),
		cfg:     cfg,
	}
	m.waitGroup.Add(1)
	go m.run()
	return m
}

func (m *memoryBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if e.expires.Before(time.Now()) {
		m.removeLocked(key, e)
		return Entry{}, false, nil
	}
	return Entry{Value: e.value, CreatedAt: e.createdAt, Tag: e.tag}, true, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.cfg.defaultTTL
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	m.mutex.Lock()
	if old, ok := m.entries[key]; ok {
		m.untagLocked(key, old.tag)
	}
	m.entries[key] = &memoryEntry{
		value:     e.Value,
		createdAt: createdAt,
		expires:   time.Now().Add(ttl),
		tag:       e.Tag,
	}
	if e.Tag != "" {
		keys, ok := m.byTag[e.Tag]
		if !ok {
			keys = make(map[string]struct{})
			m.byTag[e.Tag] = keys
		}
		keys[key] = struct{}{}
	}
	m.mutex.Unlock()
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	if e, ok := m.entries[key]; ok {
		m.removeLocked(key, e)
	}
	m.mutex.Unlock()
	return nil
}

func (m *memoryBackend) Clear(_ context.Context, tag string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if tag == "" {
		n := len(m.entries)
		m.entries = make(map[string]*memoryEntry)
		m.byTag = make(map[string]map[string]struct{})
		return n, nil
	}
	var n int
	for key := range m.byTag[tag] {
		if e, ok := m.entries[key]; ok {
			m.removeLocked(key, e)
			n++
		}
	}
	delete(m.byTag, tag)
	return n, nil
}

func (m *memoryBackend) Count(_ context.Context, prefix string) (int64, error) {
	now := time.Now()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var n int64
	for key, e := range m.entries {
		if strings.HasPrefix(key, prefix) && !e.expires.Before(now) {
			n++
		}
	}
	return n, nil
}

func (m *memoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	keys := make([]string, 0)
	for key, e := range m.entries {
		if strings.HasPrefix(key, prefix) && !e.expires.Before(now) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryBackend) IncrStat(_ context.Context, fn string, hit bool) error {
	m.mutex.Lock()
	s, ok := m.stats[fn]
	if !ok {
		s = &Stats{}
		m.stats[fn] = s
	}
	if hit {
		s.Hits++
	} else {
		s.Misses++
	}
	m.mutex.Unlock()
	return nil
}

func (m *memoryBackend) FnStats(_ context.Context, fn string) (Stats, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if s, ok := m.stats[fn]; ok {
		return *s, nil
	}
	return Stats{}, nil
}

func (m *memoryBackend) ResetStats(_ context.Context, fn string) error {
	m.mutex.Lock()
	if fn == "" {
		m.stats = make(map[string]*Stats)
	} else {
		delete(m.stats, fn)
	}
	m.mutex.Unlock()
	return nil
}

func (m *memoryBackend) Close() error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
	})
	return nil
}

// removeLocked deletes an entry and its tag index membership. Callers
// hold the mutex.
func (m *memoryBackend) removeLocked(key string, e *memoryEntry) {
	delete(m.entries, key)
	m.untagLocked(key, e.tag)
}

func (m *memoryBackend) untagLocked(key, tag string) {
	if tag == "" {
		return
	}
	if keys, ok := m.byTag[tag]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.byTag, tag)
		}
	}
}

func (m *memoryBackend) run() {
	defer m.waitGroup.Done()
	ticker := time.NewTicker(m.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.mutex.Lock()
			for key, e := range m.entries {
				if e.expires.Before(now) {
					m.removeLocked(key, e)
				}
			}
			m.mutex.Unlock()
		}
	}
}
