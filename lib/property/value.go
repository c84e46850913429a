// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxEncodedLength bounds the encoded form of a value. The symlink
// backend stores values as link targets, and link targets share the
// filesystem's path length limit (4 KB on Linux ext4, less elsewhere),
// so oversized values must fail closed at encode time rather than
// surface as filesystem errors.
const MaxEncodedLength = 4095

// ErrDecode reports a corrupted on-disk value. The store surfaces it
// and leaves the entry untouched; there is no auto-repair.
var ErrDecode = errors.New("corrupted property value")

// ErrValueType reports an attempt to store an unsupported Go type.
var ErrValueType = errors.New("unsupported property value type")

// Encode serializes a scalar value to its string wire form:
// "<tag>:<payload>" with tag n (nil), b (bool), i (integer),
// f (float), or s (string). Plain strings go untagged unless they are
// empty or collide with a tag prefix, in which case they are
// defensively tagged "s:" so decoding stays unambiguous.
func Encode(value any) (string, error) {
	var encoded string
	switch v := value.(type) {
	case nil:
		encoded = "n:"
	// bool must be checked before the integer cases: several
	// configuration sources deliver booleans that are otherwise
	// indistinguishable from 0 and 1.
	case bool:
		if v {
			encoded = "b:true"
		} else {
			encoded = "b:false"
		}
	case int:
		encoded = "i:" + strconv.FormatInt(int64(v), 10)
	case int32:
		encoded = "i:" + strconv.FormatInt(int64(v), 10)
	case int64:
		encoded = "i:" + strconv.FormatInt(v, 10)
	case uint64:
		if v > math.MaxInt64 {
			return "", fmt.Errorf("%w: uint64 %d overflows the integer range", ErrValueType, v)
		}
		encoded = "i:" + strconv.FormatUint(v, 10)
	case float32:
		encoded = "f:" + formatFloat(float64(v))
	case float64:
		encoded = "f:" + formatFloat(v)
	case string:
		if v == "" || hasTagPrefix(v) {
			encoded = "s:" + v
		} else {
			encoded = v
		}
	default:
		return "", fmt.Errorf("%w: %T", ErrValueType, value)
	}
	if len(encoded) > MaxEncodedLength {
		return "", fmt.Errorf("encoded value is %d bytes, limit %d", len(encoded), MaxEncodedLength)
	}
	return encoded, nil
}

// Decode parses the string wire form back into a scalar. Corrupt
// payloads (a "b:" that is not exactly true/false, a numeric payload
// that does not parse) return an error wrapping [ErrDecode] — they are
// surfaced, never silently coerced.
func Decode(encoded string) (any, error) {
	if !hasTagPrefix(encoded) {
		return encoded, nil
	}
	payload := encoded[2:]
	switch encoded[0] {
	case 'n':
		if payload != "" {
			return nil, fmt.Errorf("%w: null tag with payload %q", ErrDecode, payload)
		}
		return nil, nil
	case 'b':
		switch payload {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%w: bool payload %q is not true/false", ErrDecode, payload)
	case 'i':
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: integer payload %q: %v", ErrDecode, payload, err)
		}
		return n, nil
	case 'f':
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: float payload %q: %v", ErrDecode, payload, err)
		}
		return f, nil
	case 's':
		return payload, nil
	}
	panic("unreachable: hasTagPrefix admitted an unknown tag")
}

// formatFloat renders a float in plain decimal notation, never
// scientific, with the shortest digit string that parses back to the
// identical float64.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// hasTagPrefix reports whether s begins with one of the reserved
// two-character type tags.
func hasTagPrefix(s string) bool {
	return len(s) >= 2 && s[1] == ':' && strings.IndexByte("nbifs", s[0]) >= 0
}
