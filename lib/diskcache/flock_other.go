// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package diskcache

import (
	"errors"
	"os"
)

// targetd brokers hardware on POSIX hosts; the disk cache's advisory
// locking has no non-unix implementation.

func tryFlock(*os.File) (bool, error) {
	return false, errors.New("disk cache locking is not supported on this platform")
}

func unflock(*os.File) error {
	return errors.New("disk cache locking is not supported on this platform")
}
