// Package cache stores HTTP responses in named, versioned caches backed by
// SQLite.
//
// A Storage holds any number of named caches. Each cache maps a request key
// (see Key) to a stored Entry. Caches are only ever replaced as a whole:
// Populate fills a cache in a single transaction, and Delete drops a cache
// with every entry in it. There is no per-entry expiry.
//
// Storage also keeps a small metadata table so callers can persist which
// cache generation is active across restarts.
package cache
