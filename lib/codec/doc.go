// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides targetd's standard serialization for wire
// messages: CBOR with Core Deterministic Encoding. Everything that
// crosses a daemon boundary — console stream descriptors, command
// results — goes through this package so the same logical value always
// produces identical bytes, which keeps message deduplication and
// test fixtures stable.
package codec
