// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package diskcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/targetd-foundation/targetd/lib/clock"
	"github.com/targetd-foundation/targetd/lib/property"
)

// LockFileName is the advisory mutex file inside a cache directory.
const LockFileName = "lockfile"

// ErrLockTimeout reports that the whole-store lock could not be
// acquired within the configured timeout.
var ErrLockTimeout = errors.New("disk cache lock acquisition timed out")

const (
	defaultLockTimeout   = 20 * time.Second
	defaultLockRetryWait = 300 * time.Millisecond
)

// Cache is an LRU-bounded key/value cache shared by multiple processes
// over one property store directory.
type Cache struct {
	store  *property.Store
	clock  clock.Clock
	logger *slog.Logger

	lockPath      string
	lockTimeout   time.Duration
	lockRetryWait time.Duration
}

// New returns a Cache over the given store. The lockfile is created in
// the store directory on first acquisition.
func New(store *property.Store, clk clock.Clock, logger *slog.Logger) *Cache {
	return &Cache{
		store:         store,
		clock:         clk,
		logger:        logger,
		lockPath:      filepath.Join(store.Dir(), LockFileName),
		lockTimeout:   defaultLockTimeout,
		lockRetryWait: defaultLockRetryWait,
	}
}

// Locked exposes the unlocked store operations to a WithLock body.
// Valid only for the duration of that body.
type Locked struct {
	cache *Cache
}

// WithLock runs fn while holding the whole-store lock, for multi-step
// read-modify-write sequences. Acquisition polls with a bounded retry
// wait and gives up with [ErrLockTimeout] rather than hanging; ctx
// cancellation is honored between attempts.
func (c *Cache) WithLock(ctx context.Context, fn func(*Locked) error) error {
	file, err := os.OpenFile(c.lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening cache lockfile: %w", err)
	}
	defer file.Close()

	deadline := c.clock.Now().Add(c.lockTimeout)
	for {
		contended, err := tryFlock(file)
		if err != nil {
			return fmt.Errorf("locking %s: %w", c.lockPath, err)
		}
		if !contended {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.clock.Now().Before(deadline) {
			return fmt.Errorf("%w: %s after %v", ErrLockTimeout, c.lockPath, c.lockTimeout)
		}
		c.clock.Sleep(c.lockRetryWait)
	}
	defer func() {
		if err := unflock(file); err != nil {
			c.logger.Warn("unlocking cache lockfile", "path", c.lockPath, "error", err)
		}
	}()

	return fn(&Locked{cache: c})
}

// Get reads one field under the lock.
func (c *Cache) Get(ctx context.Context, field string) (any, error) {
	var value any
	err := c.WithLock(ctx, func(locked *Locked) error {
		var err error
		value, err = locked.Get(field)
		return err
	})
	return value, err
}

// Set writes one field under the lock.
func (c *Cache) Set(ctx context.Context, field string, value any) error {
	return c.WithLock(ctx, func(locked *Locked) error {
		return locked.Set(field, value)
	})
}

// Get reads a field; the caller holds the lock.
func (l *Locked) Get(field string) (any, error) {
	return l.cache.store.Get(field)
}

// Set writes a field; the caller holds the lock. Writing refreshes the
// entry's recency even when the value is unchanged, which is how hits
// defend active entries against eviction.
func (l *Locked) Set(field string, value any) error {
	return l.cache.store.Set(field, value)
}

// LRUCleanup deletes the oldest entries by modification time until at
// most maxEntries remain; a no-op when already under the limit. The
// caller holds the lock. Exactly max(0, entries-maxEntries) files are
// removed; mtime ties break by name, a documented weak ordering.
func (l *Locked) LRUCleanup(maxEntries int) error {
	if maxEntries < 0 {
		return fmt.Errorf("maxEntries must be >= 0, got %d", maxEntries)
	}
	dir := l.cache.store.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("enumerating cache %s: %w", dir, err)
	}

	type aged struct {
		name    string
		modTime time.Time
	}
	var files []aged
	for _, entry := range entries {
		name := entry.Name()
		if name == LockFileName || strings.HasPrefix(name, ".") {
			continue
		}
		// Lstat, not Stat: symlink-backend entries are dangling links
		// and the link's own mtime is the recency signal.
		info, err := os.Lstat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		files = append(files, aged{name: name, modTime: info.ModTime()})
	}

	excess := len(files) - maxEntries
	if excess <= 0 {
		return nil
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.Before(files[j].modTime)
		}
		return files[i].name < files[j].name
	})
	for _, file := range files[:excess] {
		if err := os.Remove(filepath.Join(dir, file.name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("evicting cache entry %s: %w", file.name, err)
		}
	}
	return nil
}
