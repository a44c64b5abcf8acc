package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Kind
		wantErr  bool
	}{
		{name: "memory", input: "memory", expected: Memory},
		{name: "file", input: "file", expected: File},
		{name: "redis", input: "redis", expected: Redis},
		{name: "null", input: "null", expected: Null},
		{name: "unknown", input: "memcached", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "case sensitive", input: "Memory", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseKind(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "backend must be one of")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, k)
			assert.Equal(t, tt.input, k.String())
		})
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	for _, k := range Kinds {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}

	var k Kind
	_, err := k.MarshalText()
	assert.Error(t, err)
}

func TestKindValid(t *testing.T) {
	assert.False(t, Kind(0).Valid())
	for _, k := range Kinds {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind(250).Valid())
}

func TestRegionSegment(t *testing.T) {
	assert.Equal(t, "t300", RegionSegment(5*time.Minute))
	assert.Equal(t, "t30", RegionSegment(30*time.Second))
	assert.Equal(t, "t7200", RegionSegment(2*time.Hour))
	assert.Equal(t, "tdyn", RegionSegment(TTLDynamic))
}

func TestNullBackend(t *testing.T) {
	ctx := context.Background()
	n := NewNull()

	assert.NoError(t, n.Set(ctx, "k", Entry{Value: "discarded"}, time.Minute))
	_, found, err := n.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)

	count, err := n.Count(ctx, "")
	assert.NoError(t, err)
	assert.Zero(t, count)

	keys, err := n.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Empty(t, keys)

	removed, err := n.Clear(ctx, "")
	assert.NoError(t, err)
	assert.Zero(t, removed)

	assert.NoError(t, n.IncrStat(ctx, "fn", true))
	st, err := n.FnStats(ctx, "fn")
	assert.NoError(t, err)
	assert.Zero(t, st.Hits)

	assert.NoError(t, n.Delete(ctx, "k"))
	assert.NoError(t, n.ResetStats(ctx, ""))
	assert.NoError(t, n.Close())
}

func TestBusyRetryBackoff(t *testing.T) {
	cfg := retryConfig{
		maxRetries:        5,
		initialBackoff:    10 * time.Millisecond,
		maxBackoff:        50 * time.Millisecond,
		backoffMultiplier: 2.0,
	}

	assert.Equal(t, 10*time.Millisecond, calculateBackoff(0, cfg))
	assert.Equal(t, 20*time.Millisecond, calculateBackoff(1, cfg))
	assert.Equal(t, 40*time.Millisecond, calculateBackoff(2, cfg))
	// Capped at maxBackoff.
	assert.Equal(t, 50*time.Millisecond, calculateBackoff(3, cfg))
	assert.Equal(t, 50*time.Millisecond, calculateBackoff(10, cfg))
}

func TestIsBusy(t *testing.T) {
	assert.False(t, isBusy(nil))
	assert.False(t, isBusy(assert.AnError))
	assert.True(t, isBusy(errBusyForTest("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isBusy(errBusyForTest("SQLITE_BUSY: database table is locked")))
}

type errBusyForTest string

func (e errBusyForTest) Error() string { return string(e) }

func TestApplyOptions(t *testing.T) {
	cfg := applyOptions(nil)
	assert.Equal(t, DefaultTTL, cfg.defaultTTL)
	assert.Equal(t, DefaultQueryTimeout, cfg.queryTimeout)
	assert.Equal(t, DefaultExpiryCheck, cfg.expiryCheck)
	assert.Zero(t, cfg.fileRetries)

	cfg = applyOptions([]Option{
		WithDefaultTTL(time.Hour),
		WithQueryTimeout(time.Second),
		WithExpiryCheck(10 * time.Second),
		WithFileRetries(7),
	})
	assert.Equal(t, time.Hour, cfg.defaultTTL)
	assert.Equal(t, time.Second, cfg.queryTimeout)
	assert.Equal(t, 10*time.Second, cfg.expiryCheck)
	assert.Equal(t, 7, cfg.fileRetries)

	// Non-positive values fall back to the defaults.
	cfg = applyOptions([]Option{WithDefaultTTL(-1), WithFileRetries(-1)})
	assert.Equal(t, DefaultTTL, cfg.defaultTTL)
	assert.Zero(t, cfg.fileRetries)
}
