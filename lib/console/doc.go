// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// Package console implements targetd's console capture and replay
// protocol: the shared contract every console backend (serial
// recorder, SSH bridge, appliance logfile) presents to the rest of the
// daemon.
//
// A console's captured output lives in a stream file that may be
// recreated at any time — a power cycle restarts the recorder, an SSH
// bridge drops and reconnects. Clients therefore never hold a plain
// file offset; they hold a [StreamDescriptor] of (file, generation,
// offset). The generation counter, persisted in the target's property
// store, increases whenever the underlying stream is recreated, which
// tells a polling client to restart from offset zero instead of
// silently concatenating unrelated capture sessions. Every backend
// independently detects rollover by comparing the observed stream size
// against the last recorded one.
//
// Consoles are a two-state machine, DISABLED and ENABLED, persisted
// per console in the property store. Some backends (KVM-over-SSH
// bridges, management controllers) need an in-band handshake before
// they pass raw traffic; that is the [CommandSequence] automaton run
// by Enable. A failed handshake always forces Disable before the error
// propagates, so a console can never get stuck claiming ENABLED.
//
// The [Registry] multiplexes named consoles per target, resolves
// aliases and the default console, gates mutating calls on target
// ownership, and opportunistically re-enables backends whose live
// state no longer matches the persisted "shall be enabled" flag
// (self-healing, throttled to once per five seconds, run only while a
// client is actively polling reads).
package console
