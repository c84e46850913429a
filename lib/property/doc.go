// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// Package property implements targetd's per-target property store: a
// flat, crash-consistent key/value database kept in one directory per
// target.
//
// Keys are dot-separated names ("interfaces.console.serial0.state");
// values are scalars (nil, bool, int64, float64, string) encoded to a
// bounded string form. Every write lands through an atomic rename, so
// a concurrent reader always observes a fully written old or new
// value, never a partial one. There is no in-memory cache: every Get
// and Set touches disk. That trades speed for consistency across the
// many driver processes and threads that share a target's state
// directory.
//
// Two interchangeable backends exist behind one contract. The symlink
// backend stores the encoded value as the link target text — one
// system call to create, one to read. The plain-file backend stores
// the value as file content, for filesystems without usable atomic
// symlink semantics. The backend is chosen once at [Open] by a
// capability probe, never per call.
//
// Setting a key to nil deletes it together with every descendant key
// sharing its dotted prefix. This cascade is what drivers rely on to
// wipe a whole subtree ("interfaces.console.serial0", nil) in one
// call.
package property
