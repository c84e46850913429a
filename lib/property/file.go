// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"errors"
	"io/fs"
	"os"
)

// fileBackend stores the encoded value as regular file content. It is
// the fallback for filesystems without usable atomic symlink semantics
// (network mounts, Windows without developer mode). Same contract as
// the symlink backend: temp write plus rename, last rename wins.
type fileBackend struct{}

func (fileBackend) write(tmpPath, finalPath, encoded string) error {
	if err := os.WriteFile(tmpPath, []byte(encoded), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (fileBackend) read(path string) (string, bool, error) {
	content, err := os.ReadFile(path)
	if err == nil {
		return string(content), true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	return "", false, err
}

func (fileBackend) isEntry(entry fs.DirEntry) bool {
	return entry.Type().IsRegular()
}
