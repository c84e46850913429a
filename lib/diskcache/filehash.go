// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package diskcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// createRetries bounds the retry loop around cache population. Two
// processes hashing the same file race to create the same entry; the
// race is benign (both write the same digest) but the resulting rename
// collisions deserve a couple of retries before surfacing.
const createRetries = 3

// HashFileCached returns the hex digest of the file at path, memoized
// in the cache. The cache key covers the digest name, the path, and
// the file's stat signature, so a modified file never serves a stale
// digest. A hit rewrites the entry to refresh its recency; a miss runs
// LRU cleanup to maxEntries before hashing and storing.
func (c *Cache) HashFileCached(ctx context.Context, digestName, path string, maxEntries int) (string, error) {
	hexLength, err := digestHexLength(digestName)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	key := cacheKey(digestName, path, statSignature(info))

	var cached string
	err = c.WithLock(ctx, func(locked *Locked) error {
		value, err := locked.Get(key)
		if err != nil {
			return err
		}
		digest, ok := value.(string)
		if !ok || len(digest) != hexLength {
			// Missing or not trustworthy; fall through to recompute.
			return nil
		}
		// Rewrite with the same value so the entry's mtime moves and
		// LRU cleanup spares it.
		if err := locked.Set(key, digest); err != nil {
			return err
		}
		cached = digest
		return nil
	})
	if err != nil {
		return "", err
	}
	if cached != "" {
		return cached, nil
	}

	// Hash outside the lock; files can be large and the lock covers
	// every key in the store.
	digest, err := HashFile(digestName, path)
	if err != nil {
		return "", err
	}
	if err := c.storeWithRetry(ctx, key, digest, maxEntries); err != nil {
		return "", err
	}
	return digest, nil
}

// storeWithRetry inserts a freshly computed cache entry, running LRU
// cleanup first to bound growth. Create races with other processes are
// retried a fixed number of times before surfacing.
func (c *Cache) storeWithRetry(ctx context.Context, key, value string, maxEntries int) error {
	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		lastErr = c.WithLock(ctx, func(locked *Locked) error {
			if err := locked.LRUCleanup(maxEntries); err != nil {
				return err
			}
			return locked.Set(key, value)
		})
		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("storing cache entry %q after %d attempts: %w", key, createRetries, lastErr)
}

// cacheKey derives a fixed-length store key from the hash inputs. The
// digest name and path can contain arbitrary bytes; hashing them keeps
// the key filesystem-safe and bounded.
func cacheKey(digestName, path, signature string) string {
	sum := sha256.Sum256([]byte(digestName + "\x00" + path + "\x00" + signature))
	return hex.EncodeToString(sum[:])[:48]
}

// statSignature condenses the stat fields that change when a file's
// content changes: size, modification time at nanosecond precision,
// and mode. Any edit to the file yields a different signature and thus
// a different cache key.
func statSignature(info os.FileInfo) string {
	return fmt.Sprintf("%d-%d-%d", info.Size(), info.ModTime().UnixNano(), info.Mode())
}
