// Package store provides the SQLite-backed node store.
//
// Table nodes holds one row per node: id, parent_id (NULL for roots) and
// the cached path as a JSON array. Store implements hierarchy.Store.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: default wait for locks, narrowed per LockRoot call
//
// # Locking
//
// SQLite has no row locks. LockRoot takes the database write lock through a
// no-op UPDATE of the root row, waiting at most the requested timeout. That
// serializes repairs of the same root as required, but also serializes
// repairs of disjoint roots and blocks concurrent inserts until commit. Use
// the pgstore backend where that matters.
//
// SQLITE_BUSY after the wait maps to node.ErrLockTimeout. SQLITE_BUSY_SNAPSHOT
// (a stale read snapshot that can no longer be upgraded) and SQLITE_LOCKED
// map to node.ErrDeadlock.
package store
