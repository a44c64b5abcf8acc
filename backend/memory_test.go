package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	// Miss on empty instance.
	_, found, err := m.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "k", Entry{Value: "value", Tag: "users"}, time.Minute))
	e, found, err := m.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", e.Value)
	assert.Equal(t, "users", e.Tag)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestMemoryExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", Entry{Value: 1}, 30*time.Millisecond))
	_, found, err := m.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)

	time.Sleep(40 * time.Millisecond)
	_, found, err = m.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryBackgroundSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx, WithExpiryCheck(50*time.Millisecond))
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", Entry{Value: 1, Tag: "a"}, 30*time.Millisecond))
	time.Sleep(120 * time.Millisecond)

	// The sweep removes both the entry and its tag index membership, so
	// a later tag clear finds nothing.
	n, err := m.Clear(ctx, "a")
	assert.NoError(t, err)
	assert.Zero(t, n)
	count, err := m.Count(ctx, "")
	assert.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryDelete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", Entry{Value: 1}, time.Minute))
	assert.NoError(t, m.Delete(ctx, "k"))
	_, found, err := m.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing key is not an error.
	assert.NoError(t, m.Delete(ctx, "missing"))
}

func TestMemoryClearAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "a", Entry{Value: 1}, time.Minute))
	require.NoError(t, m.Set(ctx, "b", Entry{Value: 2, Tag: "t"}, time.Minute))

	n, err := m.Clear(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := m.Count(ctx, "")
	assert.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryClearByTag(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "a", Entry{Value: 1, Tag: "users"}, time.Minute))
	require.NoError(t, m.Set(ctx, "b", Entry{Value: 2, Tag: "users"}, time.Minute))
	require.NoError(t, m.Set(ctx, "c", Entry{Value: 3, Tag: "orders"}, time.Minute))
	require.NoError(t, m.Set(ctx, "d", Entry{Value: 4}, time.Minute))

	n, err := m.Clear(ctx, "users")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	_, found, _ := m.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = m.Get(ctx, "c")
	assert.True(t, found)
	_, found, _ = m.Get(ctx, "d")
	assert.True(t, found)
}

func TestMemoryOverwriteRetags(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", Entry{Value: 1, Tag: "old"}, time.Minute))
	require.NoError(t, m.Set(ctx, "k", Entry{Value: 2, Tag: "new"}, time.Minute))

	// The old tag no longer reaches the key.
	n, err := m.Clear(ctx, "old")
	assert.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.Clear(ctx, "new")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryCountAndKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "app:t60:fn:1", Entry{Value: 1}, time.Minute))
	require.NoError(t, m.Set(ctx, "app:t60:fn:2", Entry{Value: 2}, time.Minute))
	require.NoError(t, m.Set(ctx, "app:t60:other:1", Entry{Value: 3}, time.Minute))

	count, err := m.Count(ctx, "app:t60:fn:")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)

	keys, err := m.Keys(ctx, "app:t60:fn:")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"app:t60:fn:1", "app:t60:fn:2"}, keys)
}

func TestMemoryStats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx)
	defer m.Close()

	st, err := m.FnStats(ctx, "get_user")
	assert.NoError(t, err)
	assert.Zero(t, st.Hits)
	assert.Zero(t, st.Misses)

	require.NoError(t, m.IncrStat(ctx, "get_user", true))
	require.NoError(t, m.IncrStat(ctx, "get_user", true))
	require.NoError(t, m.IncrStat(ctx, "get_user", false))

	st, err = m.FnStats(ctx, "get_user")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)

	// Clearing entries leaves counters alone.
	_, err = m.Clear(ctx, "")
	assert.NoError(t, err)
	st, _ = m.FnStats(ctx, "get_user")
	assert.Equal(t, int64(2), st.Hits)

	require.NoError(t, m.ResetStats(ctx, "get_user"))
	st, _ = m.FnStats(ctx, "get_user")
	assert.Zero(t, st.Hits)
	assert.Zero(t, st.Misses)
}
