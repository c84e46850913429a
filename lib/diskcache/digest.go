// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package diskcache

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// ErrUnknownDigest reports a digest algorithm name outside the
// registry.
var ErrUnknownDigest = errors.New("unknown digest algorithm")

// newDigest returns a fresh hash for one of the supported algorithm
// names: sha256, sha512, blake3.
func newDigest(name string) (hash.Hash, error) {
	switch name {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "blake3":
		return blake3.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDigest, name)
}

// digestHexLength returns the length of the hex form of a digest, used
// to validate cached values before trusting them.
func digestHexLength(name string) (int, error) {
	digest, err := newDigest(name)
	if err != nil {
		return 0, err
	}
	return digest.Size() * 2, nil
}

// HashFile streams the file at path through the named digest and
// returns the hex form. Memory use is constant regardless of file
// size.
func HashFile(digestName, path string) (string, error) {
	digest, err := newDigest(digestName)
	if err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
