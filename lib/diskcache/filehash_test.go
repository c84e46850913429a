// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package diskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestHashFileMatchesDirectDigest(t *testing.T) {
	content := []byte("boot image payload")
	path := writeFile(t, t.TempDir(), "image.bin", content)

	got, err := HashFile("sha256", path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	want := sha256.Sum256(content)
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("HashFile = %s, want %x", got, want)
	}
}

func TestHashFileDigestRegistry(t *testing.T) {
	path := writeFile(t, t.TempDir(), "f", []byte("x"))

	sha512Sum := sha512.Sum512([]byte("x"))
	got, err := HashFile("sha512", path)
	if err != nil {
		t.Fatalf("HashFile(sha512): %v", err)
	}
	if got != hex.EncodeToString(sha512Sum[:]) {
		t.Errorf("sha512 digest mismatch")
	}

	blake, err := HashFile("blake3", path)
	if err != nil {
		t.Fatalf("HashFile(blake3): %v", err)
	}
	if len(blake) != 64 {
		t.Errorf("blake3 digest length = %d, want 64 hex chars", len(blake))
	}

	if _, err := HashFile("md5", path); !errors.Is(err, ErrUnknownDigest) {
		t.Errorf("HashFile(md5) error = %v, want ErrUnknownDigest", err)
	}
}

func TestHashFileCachedHitAndInvalidation(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "artifact", []byte("version one"))

	first, err := cache.HashFileCached(ctx, "sha256", path, 100)
	if err != nil {
		t.Fatalf("HashFileCached: %v", err)
	}
	want := sha256.Sum256([]byte("version one"))
	if first != hex.EncodeToString(want[:]) {
		t.Errorf("digest = %s, want %x", first, want)
	}

	again, err := cache.HashFileCached(ctx, "sha256", path, 100)
	if err != nil {
		t.Fatalf("HashFileCached(hit): %v", err)
	}
	if again != first {
		t.Errorf("hit digest = %s, want %s", again, first)
	}

	// Rewrite the file with different content and a different mtime;
	// the stat signature changes and the stale digest must not serve.
	if err := os.WriteFile(path, []byte("version two!"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	changed, err := cache.HashFileCached(ctx, "sha256", path, 100)
	if err != nil {
		t.Fatalf("HashFileCached(changed): %v", err)
	}
	wantChanged := sha256.Sum256([]byte("version two!"))
	if changed != hex.EncodeToString(wantChanged[:]) {
		t.Errorf("changed digest = %s, want %x", changed, wantChanged)
	}
}

func TestHashFileCachedRefreshesRecency(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()
	dir := t.TempDir()

	hot := writeFile(t, dir, "hot", []byte("hot content"))
	cold := writeFile(t, dir, "cold", []byte("cold content"))

	hotDigest, err := cache.HashFileCached(ctx, "sha256", hot, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.HashFileCached(ctx, "sha256", cold, 100); err != nil {
		t.Fatal(err)
	}

	// Age both entries, then hit the hot one: the hit rewrites it,
	// making it the most recent, so cleanup to one entry spares it.
	keys, err := cache.store.Keys("")
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-time.Hour)
	for i, key := range keys {
		setEntryAge(t, cache, key, base.Add(time.Duration(i)*time.Second))
	}
	if _, err := cache.HashFileCached(ctx, "sha256", hot, 100); err != nil {
		t.Fatal(err)
	}

	err = cache.WithLock(ctx, func(locked *Locked) error {
		return locked.LRUCleanup(1)
	})
	if err != nil {
		t.Fatal(err)
	}

	survivors, err := cache.store.GetSorted()
	if err != nil {
		t.Fatal(err)
	}
	if len(survivors) != 1 || survivors[0].Value != hotDigest {
		t.Errorf("survivor = %#v, want the hot entry's digest %s", survivors, hotDigest)
	}
}

func TestHashFileCachedBoundsEntries(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()
	dir := t.TempDir()

	const maxEntries = 2
	for i := 0; i < 6; i++ {
		path := writeFile(t, dir, string(rune('a'+i)), bytes.Repeat([]byte{byte(i)}, 10+i))
		if _, err := cache.HashFileCached(ctx, "sha256", path, maxEntries); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := cache.store.Keys("")
	if err != nil {
		t.Fatal(err)
	}
	// Cleanup runs before each insert, so the population settles at
	// maxEntries plus the fresh entry.
	if len(keys) > maxEntries+1 {
		t.Errorf("cache holds %d entries, want at most %d", len(keys), maxEntries+1)
	}
}

func TestHashFileMaybeCompressed(t *testing.T) {
	content := []byte("filesystem image, definitely")
	rawSum := sha256.Sum256(content)
	want := hex.EncodeToString(rawSum[:])

	compressGzip := func(path string) {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	compressZstd := func(path string) {
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	compressLZ4 := func(path string) {
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cases := map[string]func(string){
		"image.gz":  compressGzip,
		"image.zst": compressZstd,
		"image.lz4": compressLZ4,
	}
	for name, compress := range cases {
		t.Run(name, func(t *testing.T) {
			cache := newCache(t)
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), name)
			compress(path)

			got, err := cache.HashFileMaybeCompressed(ctx, "sha256", path, 100)
			if err != nil {
				t.Fatalf("HashFileMaybeCompressed: %v", err)
			}
			if got != want {
				t.Errorf("digest = %s, want %s (digest of raw content)", got, want)
			}

			// Second call must be served from the cache entry keyed by
			// the compressed-content digest.
			compressedDigest, err := HashFile("sha256", path)
			if err != nil {
				t.Fatal(err)
			}
			cached, err := cache.Get(ctx, "decompressed."+compressedDigest)
			if err != nil {
				t.Fatal(err)
			}
			if cached != want {
				t.Errorf("cache entry = %#v, want %s", cached, want)
			}
			again, err := cache.HashFileMaybeCompressed(ctx, "sha256", path, 100)
			if err != nil {
				t.Fatal(err)
			}
			if again != want {
				t.Errorf("hit digest = %s, want %s", again, want)
			}
		})
	}
}

func TestHashFileMaybeCompressedPassthrough(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()
	content := []byte("not compressed")
	path := writeFile(t, t.TempDir(), "plain.bin", content)

	got, err := cache.HashFileMaybeCompressed(ctx, "sha256", path, 100)
	if err != nil {
		t.Fatalf("HashFileMaybeCompressed: %v", err)
	}
	rawSum := sha256.Sum256(content)
	if got != hex.EncodeToString(rawSum[:]) {
		t.Errorf("digest = %s, want %x", got, rawSum)
	}

	keys, err := cache.store.Keys("")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("passthrough hashing created cache entries: %v", keys)
	}
}
