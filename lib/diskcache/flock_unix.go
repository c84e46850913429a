// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package diskcache

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// tryFlock attempts a non-blocking exclusive flock on the file,
// reporting contended=true when another process holds it.
func tryFlock(file *os.File) (contended bool, err error) {
	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) {
		return true, nil
	}
	return false, err
}

func unflock(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
