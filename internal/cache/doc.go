// Package cache memoizes query results with a TTL.
//
// Cache.GetOrCompute runs at most one computation per key at a time through
// singleflight; concurrent callers for the same key wait for and share its
// result. Invalidate purges the backend and bumps a generation counter so
// that computations started before the purge cannot repopulate it.
//
// Two backends are provided: MemoryBackend, an expirable LRU inside the
// process, and RedisBackend, which stores JSON-encoded values in Redis for
// sharing between processes.
package cache
