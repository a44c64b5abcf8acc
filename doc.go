// Package funcache memoizes function calls: it derives a cache key
// from a call's arguments, stores the result in a pluggable backend
// with a TTL, and serves later calls with equal arguments from storage
// instead of recomputing.
//
// # Wrapping a Function
//
// [Wrap] takes a function of the shape func(ctx, Args) (V, error),
// where Args is a struct holding the named arguments, and returns a
// [Func] handle:
//
//	type UserArgs struct {
//	    ID int64
//	}
//
//	getUser := funcache.Wrap(nil, "get_user",
//	    func(ctx context.Context, a UserArgs) (User, error) {
//	        return db.LoadUser(ctx, a.ID)
//	    },
//	    funcache.FuncConfig[User]{TTL: 5 * time.Minute},
//	)
//
//	user, err := getUser.Call(UserArgs{ID: 42})
//
// The first call with ID 42 runs the function and stores the result;
// later calls with ID 42 return the stored value until it expires.
// Passing a nil registry wraps against the process-wide [Default]
// registry.
//
// # Cache Keys
//
// Keys are derived from the exported fields of the args struct,
// encoded deterministically and hashed, so equal arguments always hit
// the same entry. Three filters remove fields that should not
// influence the key: unexported fields never participate, a field
// tagged `cache:"-"` is skipped, and [FuncConfig.Exclude] skips fields
// by name. A remaining field whose value cannot be encoded (a func or
// chan, say) fails the call with a [KeyDerivationError]; derivation
// never falls back to a partial key.
//
// The full key is prefix + owner + region + function name + argument
// digest, so every function owns a disjoint key namespace and external
// tooling can locate its entries.
//
// # Owners and Regions
//
// Every wrapped function belongs to an owner, by default the package
// path of the code that called [Wrap]. Owners are the configuration
// unit: [Registry.Configure] sets an owner's backend kind, key prefix,
// file directory and redis connection, merged over the registry
// defaults.
//
// Within an owner, functions sharing a backend kind and TTL share a
// region: one backend instance, one file, one redis namespace. The
// region is what a TTL-scoped clear removes and what file databases
// are named after. Functions with different TTLs never share a region,
// so clearing one function's region cannot take out another's entries.
//
// # Backends
//
// Four backend kinds are available, declared in the backend package:
//
//   - memory — an in-process map guarded by a mutex. Fastest, no
//     serialization, lost on restart. Expired entries are swept by a
//     background goroutine.
//   - file — a SQLite database per region using [modernc.org/sqlite]
//     (pure Go, no CGO). Values are msgpack BLOBs. Entries and
//     counters survive restarts. WAL mode, per-query timeouts, and a
//     background sweep of expired rows.
//   - redis — a shared networked store using
//     [github.com/redis/go-redis/v9]. Values are msgpack in hashes
//     with native TTL enforcement. Multiple processes share entries
//     and counters.
//   - null — stores nothing. Every read misses and every write and
//     counter is discarded. Useful for turning a cache off in one
//     environment without touching call sites.
//
// # Call Policy
//
// [Func.Call] runs a fixed sequence. When the registry is disabled or
// [Skip] is passed, the function runs directly and nothing else
// happens. Otherwise a stored entry is looked up (unless [Overwrite]
// forces recomputation) and checked against [FuncConfig.Validate]; a
// validated hit is returned and counted. On a miss the function runs,
// [FuncConfig.CacheIf] decides whether the result is stored, and
// [FuncConfig.DynamicTTL], when set, computes the entry's lifetime
// from the result. The result is returned to the caller whether or
// not it was stored.
//
// [Func.Get], [Func.Set], [Func.Invalidate] and [Func.Original] reach
// around the policy for direct entry access; none of them move the
// hit and miss counters. [Func.Refresh] invalidates and then calls
// through the normal policy. Every operation has a Context-suffixed
// twin accepting a [context.Context].
//
// # Clearing
//
// [Registry.Clear] removes entries by scope: everything, one owner,
// one backend kind, one region (kind plus TTL), or one tag in any of
// those scopes, fanned out across matching regions in parallel.
// Persistent regions belonging to wrapped functions are opened before
// clearing, so file and redis entries written by earlier processes are
// removed even when nothing has read them yet.
//
// Two scope combinations are rejected with [ErrAmbiguousClear] rather
// than guessed at: a TTL without a backend kind, and a kind with a tag
// but no TTL. Both have more than one plausible reading, so nothing is
// cleared.
//
// # Statistics
//
// Each wrapped call counts a hit or a miss; [Func.Stats] reads the
// counters along with the live entry count. Counters live where the
// backend lives, so file and redis counters survive restarts, and they
// are independent of entry lifecycle: clearing a region or expiring
// entries never resets them. [Func.ResetStats] does.
//
// # Configuration
//
// Configuration is code-first through [Registry.Configure], with
// [LoadFile] (YAML) and [FromEnv] (FUNCACHE_* variables) for
// deployments that configure externally. [Registry.Disable] switches
// every wrapped function in the process to direct invocation, for
// tests and debugging; setting FUNCACHE_DISABLE does the same at
// startup. A handle fixes its owner and TTL at [Wrap] time and reads
// everything else from the owner's configuration on each call, so
// reconfiguring an owner reaches functions that are already wrapped.
// Regions keep the settings they were built with until
// [Registry.ResetBackends] rebuilds them.
package funcache
