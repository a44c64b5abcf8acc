package funcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funcache/funcache/backend"
	"github.com/funcache/funcache/logger"
)

// wrapCounter wraps a trivial function for owner with the given cache
// shape and calls it once so its region holds one entry.
func wrapCounter(t *testing.T, r *Registry, owner, name string, cfg FuncConfig[int]) *Func[userArgs, int] {
	t.Helper()
	cfg.Owner = owner
	f := Wrap(r, name, func(ctx context.Context, a userArgs) (int, error) {
		return int(a.ID), nil
	}, cfg)
	_, err := f.Call(userArgs{ID: 1})
	require.NoError(t, err)
	return f
}

func requireCached(t *testing.T, f *Func[userArgs, int], want bool) {
	t.Helper()
	_, found, err := f.Lookup(userArgs{ID: 1})
	require.NoError(t, err)
	require.Equal(t, want, found)
}

func TestClearAmbiguousCombinations(t *testing.T) {
	r := newTestRegistry(t)
	f := wrapCounter(t, r, "acme/a", "fn_a", FuncConfig[int]{TTL: 5 * time.Minute, Tag: "users"})

	_, err := r.Clear(ClearRequest{TTL: TTL(5 * time.Minute)})
	require.ErrorIs(t, err, ErrAmbiguousClear)

	_, err = r.Clear(ClearRequest{Owner: "acme/a", TTL: TTL(5 * time.Minute), Tag: "users"})
	require.ErrorIs(t, err, ErrAmbiguousClear)

	_, err = r.Clear(ClearRequest{Kind: backend.Memory, Tag: "users"})
	require.ErrorIs(t, err, ErrAmbiguousClear)

	// A rejected request clears nothing.
	requireCached(t, f, true)
}

func TestClearInvalidKind(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Clear(ClearRequest{Kind: backend.Kind(9)})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAmbiguousClear)
}

func TestClearEverything(t *testing.T) {
	r := newTestRegistry(t)
	a := wrapCounter(t, r, "acme/a", "fn_a", FuncConfig[int]{TTL: time.Minute})
	b := wrapCounter(t, r, "acme/b", "fn_b", FuncConfig[int]{TTL: time.Minute})

	n, err := r.Clear(ClearRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	requireCached(t, a, false)
	requireCached(t, b, false)

	// Counters survive clears.
	stats, err := a.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestClearOwnerScope(t *testing.T) {
	r := newTestRegistry(t)
	a := wrapCounter(t, r, "acme/a", "fn_a", FuncConfig[int]{TTL: time.Minute})
	b := wrapCounter(t, r, "acme/b", "fn_b", FuncConfig[int]{TTL: time.Minute})

	n, err := r.Clear(ClearRequest{Owner: "acme/a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	requireCached(t, a, false)
	requireCached(t, b, true)
}

func TestClearKindScope(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Configure("acme/files", Config{Backend: backend.File, FileDir: t.TempDir()}))
	mem := wrapCounter(t, r, "acme/mem", "fn_mem", FuncConfig[int]{TTL: time.Minute})
	file := wrapCounter(t, r, "acme/files", "fn_file", FuncConfig[int]{TTL: time.Minute})

	n, err := r.Clear(ClearRequest{Kind: backend.Memory})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	requireCached(t, mem, false)
	requireCached(t, file, true)
}

func TestClearRegionScope(t *testing.T) {
	r := newTestRegistry(t)
	short := wrapCounter(t, r, "acme/app", "fn_short", FuncConfig[int]{TTL: 300 * time.Second})
	long := wrapCounter(t, r, "acme/app", "fn_long", FuncConfig[int]{TTL: 600 * time.Second})

	n, err := r.Clear(ClearRequest{
		Owner: "acme/app",
		Kind:  backend.Memory,
		TTL:   TTL(300 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	requireCached(t, short, false)
	requireCached(t, long, true)
}

func TestClearDynamicRegion(t *testing.T) {
	r := newTestRegistry(t)
	cfg := FuncConfig[int]{DynamicTTL: func(int) time.Duration { return time.Minute }, Owner: "acme/app"}
	dyn := Wrap(r, "fn_dyn", func(ctx context.Context, a userArgs) (int, error) {
		return int(a.ID), nil
	}, cfg)
	_, err := dyn.Call(userArgs{ID: 1})
	require.NoError(t, err)
	fixed := wrapCounter(t, r, "acme/app", "fn_fixed", FuncConfig[int]{TTL: time.Minute})

	n, err := r.Clear(ClearRequest{Kind: backend.Memory, TTL: TTL(TTLDynamic)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := dyn.Lookup(userArgs{ID: 1})
	require.NoError(t, err)
	assert.False(t, found)
	requireCached(t, fixed, true)
}

func TestClearTagScope(t *testing.T) {
	r := newTestRegistry(t)
	users := wrapCounter(t, r, "acme/a", "fn_users", FuncConfig[int]{TTL: time.Minute, Tag: "users"})
	orders := wrapCounter(t, r, "acme/a", "fn_orders", FuncConfig[int]{TTL: time.Minute, Tag: "orders"})
	other := wrapCounter(t, r, "acme/b", "fn_other", FuncConfig[int]{TTL: time.Minute, Tag: "users"})

	// Tag alone sweeps every region.
	n, err := r.Clear(ClearRequest{Tag: "users"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	requireCached(t, users, false)
	requireCached(t, orders, true)
	requireCached(t, other, false)
}

func TestClearOwnerTagScope(t *testing.T) {
	r := newTestRegistry(t)
	mine := wrapCounter(t, r, "acme/a", "fn_mine", FuncConfig[int]{TTL: time.Minute, Tag: "users"})
	theirs := wrapCounter(t, r, "acme/b", "fn_theirs", FuncConfig[int]{TTL: time.Minute, Tag: "users"})

	n, err := r.Clear(ClearRequest{Owner: "acme/a", Tag: "users"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	requireCached(t, mine, false)
	requireCached(t, theirs, true)
}

func TestClearRegionTagScope(t *testing.T) {
	r := newTestRegistry(t)
	tagged := wrapCounter(t, r, "acme/a", "fn_tagged", FuncConfig[int]{TTL: time.Minute, Tag: "users"})
	untagged := wrapCounter(t, r, "acme/a", "fn_untagged", FuncConfig[int]{TTL: time.Minute})

	n, err := r.Clear(ClearRequest{
		Kind: backend.Memory,
		TTL:  TTL(time.Minute),
		Tag:  "users",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	requireCached(t, tagged, false)
	requireCached(t, untagged, true)
}

func TestClearMaterializesPersistentRegions(t *testing.T) {
	dir := t.TempDir()

	r1 := New(WithLogger(logger.NewTestLogger()))
	require.NoError(t, r1.Configure("acme/app", Config{Backend: backend.File, FileDir: dir}))
	f1 := wrapCounter(t, r1, "acme/app", "boot", FuncConfig[int]{TTL: time.Minute})
	requireCached(t, f1, true)
	require.NoError(t, r1.Close())

	// A fresh registry has never opened the database, but clearing the
	// owner still reaches the entries on disk.
	r2 := New(WithLogger(logger.NewTestLogger()))
	t.Cleanup(func() {
		_ = r2.Close()
	})
	require.NoError(t, r2.Configure("acme/app", Config{Backend: backend.File, FileDir: dir}))
	f2 := Wrap(r2, "boot", func(ctx context.Context, a userArgs) (int, error) {
		return int(a.ID), nil
	}, FuncConfig[int]{TTL: time.Minute, Owner: "acme/app"})

	n, err := r2.Clear(ClearRequest{Owner: "acme/app"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	requireCached(t, f2, false)
}

func TestClearContextHonorsScopeAcrossManyRegions(t *testing.T) {
	r := newTestRegistry(t)
	var fns []*Func[userArgs, int]
	ttls := []time.Duration{time.Minute, 5 * time.Minute, time.Hour}
	for _, ttl := range ttls {
		fns = append(fns, wrapCounter(t, r, "acme/app", "fn_"+ttl.String(), FuncConfig[int]{TTL: ttl}))
	}

	n, err := r.ClearContext(context.Background(), ClearRequest{Owner: "acme/app"})
	require.NoError(t, err)
	assert.Equal(t, len(ttls), n)
	for _, f := range fns {
		requireCached(t, f, false)
	}
}
