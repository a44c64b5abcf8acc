package funcache

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/funcache/funcache/backend"
)

// Environment variables understood by FromEnv and New.
const (
	EnvBackend      = "FUNCACHE_BACKEND"
	EnvKeyPrefix    = "FUNCACHE_KEY_PREFIX"
	EnvFileDir      = "FUNCACHE_FILE_DIR"
	EnvRedisURL     = "FUNCACHE_REDIS_URL"
	EnvQueryTimeout = "FUNCACHE_QUERY_TIMEOUT"
	EnvExpiryCheck  = "FUNCACHE_EXPIRY_CHECK"
	EnvDisable      = "FUNCACHE_DISABLE"
)

// parseDuration accepts bare seconds ("300") or str2duration notation
// ("90m", "1h30m", "1d12h").
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return str2duration.ParseDuration(s)
}

// yamlDuration decodes YAML scalars through parseDuration.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = yamlDuration(parsed)
	return nil
}

// UnmarshalYAML decodes the file form of Config: backend kinds by
// name, durations as strings or bare seconds. The backend field is
// read as a raw node so the unquoted spelling "backend: null" names
// the null kind instead of decoding as a YAML null.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Backend           yaml.Node    `yaml:"backend"`
		KeyPrefix         string       `yaml:"key_prefix"`
		FileDir           string       `yaml:"file_dir"`
		RedisURL          string       `yaml:"redis_url"`
		QueryTimeout      yamlDuration `yaml:"query_timeout"`
		ExpiryCheck       yamlDuration `yaml:"expiry_check"`
		FileRetries       int          `yaml:"file_retries"`
		RedisMaxRetries   int          `yaml:"redis_max_retries"`
		RedisDialTimeout  yamlDuration `yaml:"redis_dial_timeout"`
		RedisReadTimeout  yamlDuration `yaml:"redis_read_timeout"`
		RedisWriteTimeout yamlDuration `yaml:"redis_write_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Backend.Value != "" {
		kind, err := backend.ParseKind(raw.Backend.Value)
		if err != nil {
			return err
		}
		c.Backend = kind
	}
	c.KeyPrefix = raw.KeyPrefix
	c.FileDir = raw.FileDir
	c.RedisURL = raw.RedisURL
	c.QueryTimeout = time.Duration(raw.QueryTimeout)
	c.ExpiryCheck = time.Duration(raw.ExpiryCheck)
	c.FileRetries = raw.FileRetries
	c.RedisMaxRetries = raw.RedisMaxRetries
	c.RedisDialTimeout = time.Duration(raw.RedisDialTimeout)
	c.RedisReadTimeout = time.Duration(raw.RedisReadTimeout)
	c.RedisWriteTimeout = time.Duration(raw.RedisWriteTimeout)
	return nil
}

// LoadFile reads owner configurations from a YAML file mapping owners
// to configurations. The key "default" (or "") configures the registry
// defaults:
//
//	default:
//	  backend: file
//	  file_dir: /var/cache/app
//	github.com/acme/app/users:
//	  backend: redis
//	  redis_url: redis://localhost:6379/0
//	  query_timeout: 2s
func LoadFile(path string) (map[string]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("funcache: read config: %w", err)
	}
	var out map[string]Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("funcache: parse config: %w", err)
	}
	return out, nil
}

// FromEnv builds a Config from FUNCACHE_* environment variables.
// Unset variables leave their fields zero, so the result merges
// cleanly over existing defaults.
func FromEnv() (Config, error) {
	var cfg Config
	if v := os.Getenv(EnvBackend); v != "" {
		kind, err := backend.ParseKind(v)
		if err != nil {
			return Config{}, fmt.Errorf("funcache: %s: %w", EnvBackend, err)
		}
		cfg.Backend = kind
	}
	cfg.KeyPrefix = os.Getenv(EnvKeyPrefix)
	cfg.FileDir = os.Getenv(EnvFileDir)
	cfg.RedisURL = os.Getenv(EnvRedisURL)
	if v := os.Getenv(EnvQueryTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("funcache: %s: %w", EnvQueryTimeout, err)
		}
		cfg.QueryTimeout = d
	}
	if v := os.Getenv(EnvExpiryCheck); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("funcache: %s: %w", EnvExpiryCheck, err)
		}
		cfg.ExpiryCheck = d
	}
	return cfg, nil
}

// Apply installs a set of owner configurations, defaults first so
// owner entries merge against the new defaults.
func (r *Registry) Apply(configs map[string]Config) error {
	for _, key := range []string{"default", ""} {
		if cfg, ok := configs[key]; ok {
			if err := r.Configure("", cfg); err != nil {
				return err
			}
			break
		}
	}
	owners := make([]string, 0, len(configs))
	for owner := range configs {
		if owner == "default" || owner == "" {
			continue
		}
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		if err := r.Configure(owner, configs[owner]); err != nil {
			return fmt.Errorf("funcache: configure %s: %w", owner, err)
		}
	}
	return nil
}

// ApplyFile loads path with LoadFile and applies it.
func (r *Registry) ApplyFile(path string) error {
	configs, err := LoadFile(path)
	if err != nil {
		return err
	}
	return r.Apply(configs)
}
