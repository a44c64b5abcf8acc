package backend

import (
	"context"
	"time"
)

type nullBackend struct{}

var _ Backend = (*nullBackend)(nil)

// NewNull returns a Backend that stores nothing: every read misses,
// every write succeeds and is discarded. Useful for disabling caching of
// one owner without touching call sites.
func NewNull() Backend {
	return nullBackend{}
}

func (nullBackend) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, nil
}

func (nullBackend) Set(context.Context, string, Entry, time.Duration) error {
	return nil
}

func (nullBackend) Delete(context.Context, string) error {
	return nil
}

func (nullBackend) Clear(context.Context, string) (int, error) {
	return 0, nil
}

func (nullBackend) Count(context.Context, string) (int64, error) {
	return 0, nil
}

func (nullBackend) Keys(context.Context, string) ([]string, error) {
	return nil, nil
}

func (nullBackend) IncrStat(context.Context, string, bool) error {
	return nil
}

func (nullBackend) FnStats(context.Context, string) (Stats, error) {
	return Stats{}, nil
}

func (nullBackend) ResetStats(context.Context, string) error {
	return nil
}

func (nullBackend) Close() error {
	return nil
}
