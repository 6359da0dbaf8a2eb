// Package cache provides an insert-once key/value cache with optional
// per-entry expiration, persisted to local disk, behind one interface with
// several interchangeable backends.
//
// # Cache Interface
//
// The [Cache] interface defines six operations: [Cache.Add], [Cache.Get],
// [Cache.Remove], [Cache.Keys], [Cache.ExpireItems] and [Cache.Close].
// Values are opaque byte slices; callers own the encoding. A key, once
// added, keeps its value until it is removed or expires:
//
//	ok, err := c.Add(ctx, "user:123", data, time.Now().Add(time.Hour))
//	// ok is false if "user:123" was already present
//
// A zero [time.Time] for expires means the entry never expires. Expiry is
// compared in UTC against the cache clock ([WithClock]).
//
// # Implementations
//
//   - [NewFile] keeps one file per entry in a directory. The file name is the
//     key run through [SafeName] plus ".dat", and the content is a msgpack
//     envelope holding the payload, the expiry and an xxhash checksum. A new
//     entry is written to a temp file and hard-linked into place, so
//     concurrent adds of one key produce exactly one winner and a reader never
//     sees a half-written file. Entries that fail to decode are deleted on
//     read. Since [SafeName] is not injective, keys that differ only in
//     characters the filesystem rejects share one entry, and [Cache.Keys]
//     returns the encoded names.
//
//   - [NewSQLite] keeps every entry in one database file, [DBFileName], using
//     [modernc.org/sqlite] (pure Go, no CGO). The file is created by the
//     first [Cache.Add]; reads against a cache that never stored anything
//     leave the directory untouched. Expiry is stored as 100 ns ticks since
//     0001-01-01 UTC. All operations share one connection behind a mutex and
//     run under a per-query timeout ([DefaultQueryTimeout]).
//
//   - [NewMemory] is an in-process map with the same contract. Lost on
//     process restart, useful in tests.
//
//   - [NewRedis] stores entries with SET NX under an optional key prefix
//     ([WithPrefix]). Expiry uses native Redis TTL, so no sweeper runs. The
//     caller owns the [redis.Client] lifecycle.
//
// # Expiration
//
// The file, SQLite and memory backends start a background sweeper when they
// are constructed. It calls [Cache.ExpireItems] right away and then every
// [DefaultExpiryCheck] ([WithExpiryCheck] to change it). Errors and panics
// inside a sweep are logged and the loop carries on. [Cache.Close] cancels the
// sweeper, waking it if it is waiting, and returns once it has exited.
//
// Between sweeps an expired entry already reads as absent.
//
// # Corrupt Stores
//
// When listing keys fails on a SQLite database, the backend returns the
// error. With [WithDestructiveRecovery] it instead deletes the database file
// and returns an empty list, which is the right call when the cache holds
// nothing that cannot be rebuilt.
//
// # Manager
//
// [Manager] is the facade applications hold. It is told a base folder with
// [Manager.Initialize] and builds its backend inside <base>/[CacheFolder] on
// the first operation:
//
//	m := cache.NewManager(ctx, cache.StoreSQLite)
//	m.Initialize(appDir)
//	defer m.Close()
//
// Every operation before Initialize returns [ErrNotInitialized]. [Default]
// returns a process-wide SQLite Manager.
//
// # Typed Helpers
//
// [AddValue] and [GetValue] wrap a Cache with msgpack encoding:
//
//	ok, err := cache.AddValue(ctx, c, "user:123", user, time.Time{})
//	found, user, err := cache.GetValue[User](ctx, c, "user:123")
//
// [Exec] is a cache-aside helper that combines lookup and population:
//
//	found, user, err := cache.Exec(ctx, cache.CacheConfig{Key: "user:123"}, c,
//	    func(ctx context.Context) (User, bool, error) {
//	        user, err := queries.GetUser(ctx, id)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return User{}, false, nil // not found, won't be cached
//	        }
//	        return user, true, err
//	    },
//	)
//
// Read errors are propagated without calling the invoker. A failed add after
// a successful invoke is swallowed and the value is still returned.
package cache
