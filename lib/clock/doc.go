// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability.
//
// Every targetd component that throttles, retries, or times out — the
// console handshake automaton, the self-healing check, the disk cache
// lock acquisition — accepts a [Clock] instead of calling the time
// package directly. Production code injects [Real]; tests inject
// [Fake] and advance time deterministically.
package clock
