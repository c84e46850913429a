// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// keyCharSafe reports whether c may appear literally in an entry
// filename. Everything else — including the dot separator and the
// percent sign itself — is escaped, so an escaped name can always be
// reversed unambiguously and never collides with the auxiliary files
// (lockfile, console-<name>.read) that share the state directory.
func keyCharSafe(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == ' ':
		return true
	}
	return false
}

// escapeKey converts a key to its on-disk filename, percent-escaping
// every byte outside the safe set.
func escapeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if keyCharSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xf])
	}
	return b.String()
}

// unescapeKey reverses escapeKey. It rejects names that could not have
// been produced by escapeKey, which is how enumeration skips foreign
// files in the state directory.
func unescapeKey(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '%' {
			if i+2 >= len(name) {
				return "", fmt.Errorf("truncated escape in entry name %q", name)
			}
			high := hexValue(name[i+1])
			low := hexValue(name[i+2])
			if high < 0 || low < 0 {
				return "", fmt.Errorf("invalid escape %q in entry name %q", name[i:i+3], name)
			}
			b.WriteByte(byte(high<<4 | low))
			i += 2
			continue
		}
		if !keyCharSafe(c) {
			return "", fmt.Errorf("unescaped byte %q in entry name %q", c, name)
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func hexValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return -1
}
