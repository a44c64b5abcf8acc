package funcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funcache/funcache/backend"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"300", 300 * time.Second, false},
		{"45s", 45 * time.Second, false},
		{"90m", 90 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"2d", 48 * time.Hour, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  backend: file
  file_dir: `+dir+`
  key_prefix: "app:"
  query_timeout: 2s
  file_retries: 5
github.com/acme/app:
  backend: redis
  redis_url: redis://localhost:6379/0
  expiry_check: 300
  redis_max_retries: 5
`), 0o600))

	configs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	def := configs["default"]
	assert.Equal(t, backend.File, def.Backend)
	assert.Equal(t, dir, def.FileDir)
	assert.Equal(t, "app:", def.KeyPrefix)
	assert.Equal(t, 2*time.Second, def.QueryTimeout)
	assert.Equal(t, 5, def.FileRetries)

	app := configs["github.com/acme/app"]
	assert.Equal(t, backend.Redis, app.Backend)
	assert.Equal(t, "redis://localhost:6379/0", app.RedisURL)
	assert.Equal(t, 5*time.Minute, app.ExpiryCheck)
	assert.Equal(t, 5, app.RedisMaxRetries)
}

func TestLoadFileBadBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  backend: bolt\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend must be one of")
}

func TestLoadFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  query_timeout: soon\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvBackend, "file")
	t.Setenv(EnvKeyPrefix, "env:")
	t.Setenv(EnvFileDir, dir)
	t.Setenv(EnvQueryTimeout, "3s")
	t.Setenv(EnvExpiryCheck, "600")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, backend.File, cfg.Backend)
	assert.Equal(t, "env:", cfg.KeyPrefix)
	assert.Equal(t, dir, cfg.FileDir)
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ExpiryCheck)
}

func TestFromEnvBadValues(t *testing.T) {
	t.Setenv(EnvBackend, "bolt")
	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv(EnvBackend, "memory")
	t.Setenv(EnvQueryTimeout, "soon")
	_, err = FromEnv()
	require.Error(t, err)
}

func TestApplyDefaultsFirst(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Apply(map[string]Config{
		"default": {KeyPrefix: "p:"},
		"acme/a":  {Backend: backend.Null},
	}))

	cfg := r.ConfigOf("acme/a")
	assert.Equal(t, backend.Null, cfg.Backend)
	// The owner merges against the freshly applied defaults.
	assert.Equal(t, "p:", cfg.KeyPrefix)
}

func TestApplyFile(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  key_prefix: "svc:"
acme/app:
  backend: null
`), 0o600))

	require.NoError(t, r.ApplyFile(path))
	cfg := r.ConfigOf("acme/app")
	assert.Equal(t, backend.Null, cfg.Backend)
	assert.Equal(t, "svc:", cfg.KeyPrefix)
}

func TestApplyRejectsInvalidOwnerConfig(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Apply(map[string]Config{
		"acme/app": {Backend: backend.Redis},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme/app")
}
