// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// symlinkBackend stores the encoded value as a symlink's target text.
// Creating and reading a symlink is a single system call each, and
// creation-plus-rename is atomic, which is the whole point of this
// store. The link target is never resolved; entries are dangling links
// by design.
type symlinkBackend struct{}

func (symlinkBackend) write(tmpPath, finalPath, encoded string) error {
	// Encoded values are never empty (the codec tags the empty
	// string), so the link target is always valid.
	if err := os.Symlink(encoded, tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (symlinkBackend) read(path string) (string, bool, error) {
	encoded, err := os.Readlink(path)
	if err == nil {
		return encoded, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	// EINVAL means a non-symlink sits at this path (a stray regular
	// file, the lockfile); that is "no entry", not an error.
	if errors.Is(err, syscall.EINVAL) {
		return "", false, nil
	}
	return "", false, err
}

func (symlinkBackend) isEntry(entry fs.DirEntry) bool {
	return entry.Type()&fs.ModeSymlink != 0
}
