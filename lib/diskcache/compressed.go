// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package diskcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// decompressor wraps a compressed byte stream in its plain-content
// reader.
type decompressor func(io.Reader) (io.ReadCloser, error)

// decompressors maps artifact filename extensions to stream
// decompressors. Flashing inputs arrive as gzip, zstd, or lz4
// compressed images; anything else is hashed as-is.
var decompressors = map[string]decompressor{
	".gz": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	".zst": func(r io.Reader) (io.ReadCloser, error) {
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	},
	".lz4": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(lz4.NewReader(r)), nil
	},
}

// HashFileMaybeCompressed returns the hex digest of the file's
// decompressed content, memoized under the digest of the compressed
// bytes. Compressed artifacts are immutable inputs, so the
// compressed-content digest fully identifies the decompressed one and
// the cache saves the whole decompression on a hit. Files without a
// recognized compression extension are hashed directly and never
// cached (the plain path is cheap).
func (c *Cache) HashFileMaybeCompressed(ctx context.Context, digestName, path string, maxEntries int) (string, error) {
	hexLength, err := digestHexLength(digestName)
	if err != nil {
		return "", err
	}
	decompress, compressed := decompressors[filepath.Ext(path)]
	if !compressed {
		return HashFile(digestName, path)
	}

	compressedDigest, err := HashFile(digestName, path)
	if err != nil {
		return "", err
	}
	key := "decompressed." + compressedDigest

	var cached string
	err = c.WithLock(ctx, func(locked *Locked) error {
		value, err := locked.Get(key)
		if err != nil {
			return err
		}
		digest, ok := value.(string)
		if !ok || len(digest) != hexLength {
			return nil
		}
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

	digest, err := hashDecompressed(digestName, path, decompress)
	if err != nil {
		return "", err
	}
	if err := c.storeWithRetry(ctx, key, digest, maxEntries); err != nil {
		return "", err
	}
	return digest, nil
}

func hashDecompressed(digestName, path string, decompress decompressor) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	plain, err := decompress(file)
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	defer plain.Close()

	digest, err := newDigest(digestName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(digest, plain); err != nil {
		return "", fmt.Errorf("hashing decompressed %s: %w", path, err)
	}
	return fmt.Sprintf("%x", digest.Sum(nil)), nil
}
