// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// Package diskcache implements a cooperative-multiprocess LRU cache
// over one property store plus a whole-store file lock.
//
// The lock is deliberately coarse: one advisory flock on a "lockfile"
// inside the store directory covers every key. The property store's
// atomic renames already make single-key writes safe; the lock exists
// for the multi-step read-modify-write sequences a cache needs (check,
// clean up, insert). Callers must scope locked sections narrowly,
// since the lock serializes all keys in the store.
//
// Recency is the entry file's modification time: a cache hit rewrites
// the entry with its own value, refreshing the mtime so LRU cleanup
// spares active entries. Entries created within the same filesystem
// timestamp tick sort in name order — a documented weak ordering, not
// a strict LRU.
//
// Built on top are two content-hash memoizers: [Cache.HashFileCached]
// keys a file's digest by its path and stat signature, so a changed
// file never serves a stale digest; [Cache.HashFileMaybeCompressed]
// keys the digest of decompressed content by the digest of the
// compressed artifact, so immutable inputs are never decompressed
// twice.
package diskcache
