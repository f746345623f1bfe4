// Package picksync implements the cache and synchronization layer between an
// RFID pick-verification workflow and a remote data store. Reads are served
// from an in-process cache and revalidated in the background; scan writes are
// deduplicated, chunked and reconciled back into the cache.
//
// Components:
//   - Store: typed entries per (kind, picklist) with TTL, sweep and per-key
//     generations guarding write-back.
//   - Merge: reconciles a fresh authoritative value with the cached one
//     without losing locally recorded scans.
//   - Cache: stale-while-revalidate reads, batched fan-out, batch write
//     pipeline, statistics and cleanup.
//   - QueryTracker: per (operation, key) call diagnostics.
//   - Persister: optional write-behind snapshot for warm restarts (see persist).
//
// Kinds and keys:
//
//	picklists        - all picklist numbers
//	items:<no>       - pick items of a picklist
//	tags:<no>        - processed tag identifiers of a picklist
//	status:<no>      - status derived from items
//
// CAS pattern used for every write-back:
//
//	obs   := store.SnapshotGen(k) // before the source call
//	fresh := fetch(k)
//	_, _   = store.Merge(k, fresh, obs) // applied iff k was not invalidated meanwhile
package picksync
