// Package store provides the SQLite-backed durable mirror of the forge cache.
//
// The store is a warm-start cache, never the source of truth. The caches
// write to it through a single-writer queue and read from it only to hydrate
// memory at start-up; it is never consulted to resolve conflicts.
//
// # Gateway
//
// Callers talk to the store through two parameterised entry points, Query and
// Execute, which report failures in their result values instead of panicking.
// ExecuteBatch runs several statements in one transaction. Statements are
// built with Upsert, DeleteScope and the Select helpers so every write is
// keyed by repository id ("owner/name") plus entity number or name.
//
// The connection runs in WAL mode so hydration reads never wait on the
// write-behind queue. synchronous=NORMAL may lose the last writes on a crash;
// the next fetch repairs them.
//
// Schema changes are numbered migrations recorded in PRAGMA user_version.
package store
