// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
)

// ErrInvalidStore reports a store directory that is missing, not a
// directory, or not writable. It is fatal: the caller's configuration
// is wrong and retrying cannot help.
var ErrInvalidStore = errors.New("invalid store directory")

// KeyValue is one enumerated store entry.
type KeyValue struct {
	Key   string
	Value any
}

// Store is a flat key/value database over one directory. Multiple
// processes and goroutines may operate on the same directory
// concurrently; single-key writes are last-rename-wins. Callers that
// need multi-step read-modify-write atomicity must serialize
// externally (see lib/diskcache).
type Store struct {
	dir     string
	backend backend
}

// backend is the storage strategy for one entry. It is selected once
// at Open by a capability probe; there is no per-call branching.
type backend interface {
	// write stores encoded at finalPath via an atomic rename from
	// tmpPath. Both paths are inside the store directory.
	write(tmpPath, finalPath, encoded string) error

	// read returns the encoded value at path, with ok=false when no
	// entry exists there.
	read(path string) (encoded string, ok bool, err error)

	// isEntry reports whether a directory entry is a store entry (as
	// opposed to a lockfile, console stream, or other foreign file).
	isEntry(entry fs.DirEntry) bool
}

// writeCounter disambiguates temporary names between goroutines of one
// process; the pid disambiguates between processes.
var writeCounter atomic.Uint64

// Open returns a Store over dir. The directory must already exist and
// be writable; anything else fails with [ErrInvalidStore]. The backend
// probe runs here: if the filesystem supports symlink creation the
// symlink-payload backend is used, otherwise the plain-file backend.
func Open(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStore, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidStore, dir)
	}

	probe := filepath.Join(dir, fmt.Sprintf(".probe-%d-%d", os.Getpid(), writeCounter.Add(1)))
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %s is not writable: %v", ErrInvalidStore, dir, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("%w: %s: removing probe: %v", ErrInvalidStore, dir, err)
	}

	store := &Store{dir: dir}
	if err := os.Symlink("probe", probe); err != nil {
		store.backend = fileBackend{}
	} else {
		os.Remove(probe)
		store.backend = symlinkBackend{}
	}
	return store, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// Keys enumerates the store's keys in alphabetical order, optionally
// filtered by a glob pattern (path.Match syntax). An empty pattern
// matches everything.
func (s *Store) Keys(pattern string) ([]string, error) {
	keys, err := s.list(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns the value stored under key, or nil when the key does not
// exist. A missing key is never an error; a corrupted entry is.
func (s *Store) Get(key string) (any, error) {
	return s.GetDefault(key, nil)
}

// GetDefault is Get with a caller-chosen value for missing keys.
func (s *Store) GetDefault(key string, def any) (any, error) {
	encoded, ok, err := s.backend.read(s.entryPath(key))
	if err != nil {
		return nil, fmt.Errorf("reading property %q: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	value, err := Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key. A nil value deletes the key and every
// descendant key sharing the "key." prefix. Concurrent Sets of the
// same key never corrupt data; the last rename observed wins.
func (s *Store) Set(key string, value any) error {
	if value == nil {
		return s.delete(key)
	}
	encoded, err := Encode(value)
	if err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	finalPath := s.entryPath(key)
	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".tmp-%d-%d", os.Getpid(), writeCounter.Add(1)))
	if err := s.backend.write(tmpPath, finalPath, encoded); err != nil {
		return fmt.Errorf("writing property %q: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores value under key only if the key does not already
// exist, returning whether it wrote. This is the store's only
// compare-and-set-style primitive; two concurrent SetIfAbsent calls on
// a missing key may both report true, with last-rename-wins resolving
// the value.
func (s *Store) SetIfAbsent(key string, value any) (bool, error) {
	_, ok, err := s.backend.read(s.entryPath(key))
	if err != nil {
		return false, fmt.Errorf("reading property %q: %w", key, err)
	}
	if ok {
		return false, nil
	}
	if err := s.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

// GetAll bulk-reads every entry whose key matches any of the given
// glob patterns (all entries when no pattern is given), avoiding one
// directory scan per key.
func (s *Store) GetAll(patterns ...string) (map[string]any, error) {
	entries, err := s.GetSorted(patterns...)
	if err != nil {
		return nil, err
	}
	result := make(map[string]any, len(entries))
	for _, entry := range entries {
		result[entry.Key] = entry.Value
	}
	return result, nil
}

// GetSorted is GetAll with deterministic, alphabetically sorted
// output.
func (s *Store) GetSorted(patterns ...string) ([]KeyValue, error) {
	keys, err := s.listMulti(patterns)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	result := make([]KeyValue, 0, len(keys))
	for _, key := range keys {
		encoded, ok, err := s.backend.read(s.entryPath(key))
		if err != nil {
			return nil, fmt.Errorf("reading property %q: %w", key, err)
		}
		if !ok {
			// Deleted between enumeration and read; benign race.
			continue
		}
		value, err := Decode(encoded)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		result = append(result, KeyValue{Key: key, Value: value})
	}
	return result, nil
}

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, escapeKey(key))
}

func (s *Store) delete(key string) error {
	if err := os.Remove(s.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting property %q: %w", key, err)
	}
	keys, err := s.list("")
	if err != nil {
		return err
	}
	prefix := key + "."
	for _, descendant := range keys {
		if !strings.HasPrefix(descendant, prefix) {
			continue
		}
		if err := os.Remove(s.entryPath(descendant)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting property %q: %w", descendant, err)
		}
	}
	return nil
}

func (s *Store) list(pattern string) ([]string, error) {
	var patterns []string
	if pattern != "" {
		patterns = []string{pattern}
	}
	return s.listMulti(patterns)
}

func (s *Store) listMulti(patterns []string) ([]string, error) {
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("bad key pattern %q: %w", pattern, err)
		}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("enumerating store %s: %w", s.dir, err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		// Dot-prefixed names are in-flight temporaries; lockfile is
		// the disk cache mutex. Neither is a store entry.
		if strings.HasPrefix(name, ".") || name == "lockfile" {
			continue
		}
		if !s.backend.isEntry(entry) {
			continue
		}
		key, err := unescapeKey(name)
		if err != nil {
			continue
		}
		if len(patterns) > 0 && !matchAny(patterns, key) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func matchAny(patterns []string, key string) bool {
	for _, pattern := range patterns {
		// Pattern validity was checked up front.
		if ok, _ := path.Match(pattern, key); ok {
			return true
		}
	}
	return false
}
