package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/funcache/funcache"
	"github.com/funcache/funcache/backend"
	"github.com/funcache/funcache/logger"
)

var rootCmd = &cobra.Command{
	Use:   "funcache",
	Short: "Inspect and maintain funcache storage",
	Long: `funcache operates on the persistent cache regions (file and redis)
described by a funcache YAML configuration, so caches written by your
services can be listed, counted, cleared and compacted from the shell.`,
	SilenceUsage: true,
}

func newLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = os.Getenv("FUNCACHE_LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	return logger.NewConsoleLogger(logger.ParseLevel(level))
}

// ownerConfig resolves the owner's effective configuration from the
// --config file, overlaid with the --backend flag.
func ownerConfig(cmd *cobra.Command) (string, funcache.Config, error) {
	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		return "", funcache.Config{}, fmt.Errorf("--owner is required")
	}
	r := funcache.New(funcache.WithLogger(newLogger(cmd)))
	defer r.Close()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := r.ApplyFile(path); err != nil {
			return "", funcache.Config{}, err
		}
	}
	cfg := r.ConfigOf(owner)
	if kindName, _ := cmd.Flags().GetString("backend"); kindName != "" {
		kind, err := backend.ParseKind(kindName)
		if err != nil {
			return "", funcache.Config{}, err
		}
		cfg.Backend = kind
	}
	return owner, cfg, nil
}

// ttlFlag parses --ttl: empty means all regions, "dyn" the dynamic
// region, otherwise bare seconds or a duration like "90m".
func ttlFlag(cmd *cobra.Command) (*time.Duration, error) {
	s, _ := cmd.Flags().GetString("ttl")
	if s == "" {
		return nil, nil
	}
	if s == "dyn" {
		ttl := funcache.TTLDynamic
		return &ttl, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		ttl := time.Duration(secs) * time.Second
		return &ttl, nil
	}
	ttl, err := str2duration.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --ttl %q: %w", s, err)
	}
	return &ttl, nil
}

// filePaths lists the database files for owner's file regions, or the
// single region named by ttl.
func filePaths(cfg funcache.Config, owner string, ttl *time.Duration) ([]string, error) {
	if ttl != nil {
		path := filepath.Join(cfg.FileDir, backend.RegionFileName(owner, *ttl))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no file region for this ttl: %w", err)
		}
		return []string{path}, nil
	}
	paths, err := backend.FileRegions(cfg.FileDir, owner)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no file regions for %s under %s", owner, cfg.FileDir)
	}
	sort.Strings(paths)
	return paths, nil
}

func redisProbe(cfg funcache.Config, owner string) (*redis.Client, backend.Backend, string, error) {
	if cfg.RedisURL == "" {
		return nil, nil, "", fmt.Errorf("owner %s has no redis_url configured", owner)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, "", fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ownerPrefix := cfg.KeyPrefix + owner + ":"
	probe := backend.NewRedis(client, backend.Namespace{OwnerPrefix: ownerPrefix})
	return client, probe, ownerPrefix, nil
}

// redisScanPrefix returns the key prefix covering owner's data keys:
// one region when ttl is set, every region otherwise. Auxiliary keys
// (tag indexes, counters) never start with the region's "t".
func redisScanPrefix(ownerPrefix string, ttl *time.Duration) string {
	if ttl != nil {
		return ownerPrefix + backend.RegionSegment(*ttl) + ":"
	}
	return ownerPrefix + "t"
}

// regionSegments extracts the distinct region segments from data keys.
func regionSegments(keys []string, ownerPrefix string) []string {
	seen := make(map[string]struct{})
	for _, key := range keys {
		rest := strings.TrimPrefix(key, ownerPrefix)
		if i := strings.Index(rest, ":"); i > 0 {
			seen[rest[:i]] = struct{}{}
		}
	}
	segs := make([]string, 0, len(seen))
	for seg := range seen {
		segs = append(segs, seg)
	}
	sort.Strings(segs)
	return segs
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List live cache keys for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		owner, cfg, err := ownerConfig(cmd)
		if err != nil {
			return err
		}
		ttl, err := ttlFlag(cmd)
		if err != nil {
			return err
		}
		switch cfg.Backend {
		case backend.File:
			paths, err := filePaths(cfg, owner, ttl)
			if err != nil {
				return err
			}
			for _, path := range paths {
				b, err := backend.NewSQLite(ctx, path)
				if err != nil {
					return err
				}
				keys, err := b.Keys(ctx, "")
				b.Close()
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Println(key)
				}
			}
		case backend.Redis:
			client, probe, ownerPrefix, err := redisProbe(cfg, owner)
			if err != nil {
				return err
			}
			defer client.Close()
			keys, err := probe.Keys(ctx, redisScanPrefix(ownerPrefix, ttl))
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Println(key)
			}
		default:
			return fmt.Errorf("backend %s has no inspectable storage", cfg.Backend)
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count live entries per region",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		owner, cfg, err := ownerConfig(cmd)
		if err != nil {
			return err
		}
		ttl, err := ttlFlag(cmd)
		if err != nil {
			return err
		}
		var total int64
		switch cfg.Backend {
		case backend.File:
			paths, err := filePaths(cfg, owner, ttl)
			if err != nil {
				return err
			}
			for _, path := range paths {
				b, err := backend.NewSQLite(ctx, path)
				if err != nil {
					return err
				}
				n, err := b.Count(ctx, "")
				b.Close()
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d\n", filepath.Base(path), n)
				total += n
			}
		case backend.Redis:
			client, probe, ownerPrefix, err := redisProbe(cfg, owner)
			if err != nil {
				return err
			}
			defer client.Close()
			n, err := probe.Count(ctx, redisScanPrefix(ownerPrefix, ttl))
			if err != nil {
				return err
			}
			total = n
		default:
			return fmt.Errorf("backend %s has no inspectable storage", cfg.Backend)
		}
		fmt.Printf("total: %d\n", total)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached entries for an owner",
	Long: `Clears owner regions: all of them, one region named by --ttl, or only
entries carrying --tag. Hit and miss counters are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		owner, cfg, err := ownerConfig(cmd)
		if err != nil {
			return err
		}
		ttl, err := ttlFlag(cmd)
		if err != nil {
			return err
		}
		tag, _ := cmd.Flags().GetString("tag")
		l := newLogger(cmd)
		var total int
		switch cfg.Backend {
		case backend.File:
			paths, err := filePaths(cfg, owner, ttl)
			if err != nil {
				return err
			}
			for _, path := range paths {
				b, err := backend.NewSQLite(ctx, path)
				if err != nil {
					return err
				}
				n, err := b.Clear(ctx, tag)
				b.Close()
				if err != nil {
					return err
				}
				l.Debug("cleared %d entries from %s", n, filepath.Base(path))
				total += n
			}
		case backend.Redis:
			client, probe, ownerPrefix, err := redisProbe(cfg, owner)
			if err != nil {
				return err
			}
			defer client.Close()
			keys, err := probe.Keys(ctx, redisScanPrefix(ownerPrefix, ttl))
			if err != nil {
				return err
			}
			for _, seg := range regionSegments(keys, ownerPrefix) {
				b := backend.NewRedis(client, backend.Namespace{OwnerPrefix: ownerPrefix, Region: seg})
				n, err := b.Clear(ctx, tag)
				if err != nil {
					return err
				}
				l.Debug("cleared %d entries from %s", n, seg)
				total += n
			}
		default:
			return fmt.Errorf("backend %s has no inspectable storage", cfg.Backend)
		}
		fmt.Printf("cleared %d entries\n", total)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show hit and miss counters for a function",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		owner, cfg, err := ownerConfig(cmd)
		if err != nil {
			return err
		}
		fn, _ := cmd.Flags().GetString("fn")
		if fn == "" {
			return fmt.Errorf("--fn is required")
		}
		var stats backend.Stats
		switch cfg.Backend {
		case backend.File:
			paths, err := filePaths(cfg, owner, nil)
			if err != nil {
				return err
			}
			for _, path := range paths {
				b, err := backend.NewSQLite(ctx, path)
				if err != nil {
					return err
				}
				s, err := b.FnStats(ctx, fn)
				b.Close()
				if err != nil {
					return err
				}
				stats.Hits += s.Hits
				stats.Misses += s.Misses
			}
		case backend.Redis:
			client, probe, _, err := redisProbe(cfg, owner)
			if err != nil {
				return err
			}
			defer client.Close()
			stats, err = probe.FnStats(ctx, fn)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("backend %s keeps no persistent counters", cfg.Backend)
		}
		fmt.Printf("%s: %d hits, %d misses\n", fn, stats.Hits, stats.Misses)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired rows from file regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		owner, cfg, err := ownerConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Backend != backend.File {
			return fmt.Errorf("cleanup applies to file regions; %s expires entries itself", cfg.Backend)
		}
		paths, err := filePaths(cfg, owner, nil)
		if err != nil {
			return err
		}
		var total int64
		for _, path := range paths {
			b, err := backend.NewSQLite(ctx, path)
			if err != nil {
				return err
			}
			if c, ok := b.(backend.Cleaner); ok {
				n, err := c.CleanupExpired(ctx)
				if err != nil {
					b.Close()
					return err
				}
				total += n
			}
			b.Close()
		}
		fmt.Printf("purged %d expired entries\n", total)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a funcache YAML configuration")
	rootCmd.PersistentFlags().String("owner", "", "owner whose regions to operate on")
	rootCmd.PersistentFlags().String("backend", "", "override the configured backend kind (file or redis)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	for _, cmd := range []*cobra.Command{keysCmd, countCmd, clearCmd} {
		cmd.Flags().String("ttl", "", "limit to the region with this TTL (seconds, a duration like 90m, or dyn)")
	}
	clearCmd.Flags().String("tag", "", "remove only entries carrying this tag")
	statsCmd.Flags().String("fn", "", "function name the counters belong to")
	rootCmd.AddCommand(keysCmd, countCmd, clearCmd, statsCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
