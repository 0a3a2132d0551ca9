// Package cache keeps the in-memory view of forge state coherent with the
// remote source of truth and the durable store.
//
// Each entity kind has its own cache built on a shared generic core. A cache
// maps a scope (a repository) to its entities plus staleness metadata, and
// guarantees at most one in-flight fetch per scope. Fetched data is mirrored
// to SQLite through a single-writer Persister; reads never touch the store
// except through Hydrate.
//
// Mutations are optimistic: the local state changes first, the remote call
// follows, and the entity is either reconciled with the authoritative
// response or restored from a snapshot.
//
// The Scheduler periodically refreshes check statuses for repositories the
// user is looking at.
package cache
