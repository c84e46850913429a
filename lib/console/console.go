// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/targetd-foundation/targetd/lib/clock"
	"github.com/targetd-foundation/targetd/lib/property"
)

// Errors callers branch on. The HTTP layer maps these to status codes.
var (
	// ErrHandshakeTimeout reports a command sequence that never saw
	// its expected response. The console is always DISABLED by the
	// time this surfaces.
	ErrHandshakeTimeout = errors.New("console handshake timed out")

	// ErrDisabled reports an operation that needs an enabled console.
	ErrDisabled = errors.New("console is disabled")

	// ErrReadOnly reports a write to a capture-only console.
	ErrReadOnly = errors.New("console is read only")

	// ErrNotOwner reports a mutating call from a caller that does not
	// hold the target.
	ErrNotOwner = errors.New("caller does not own the target")

	// ErrNoConsole reports a console name (or a default lookup on a
	// target with no consoles) that resolves to nothing.
	ErrNoConsole = errors.New("no such console")
)

// StreamDescriptor locates captured console data for a client. The
// out-of-scope HTTP layer streams File to remote clients as a byte
// range starting at Offset; Generation tells the client whether the
// stream it was following still exists.
type StreamDescriptor struct {
	// File is the capture stream path on the broker host.
	File string `cbor:"stream_file"`

	// Generation identifies one continuous capture session. It is
	// monotonically non-decreasing for the lifetime of the target's
	// state directory.
	Generation int64 `cbor:"stream_generation"`

	// Offset is the byte position the client asked to read from.
	Offset int64 `cbor:"stream_offset"`
}

// EmptyStream is the descriptor for a console that has recorded
// nothing yet: an empty sentinel stream at generation zero. Callers
// treat "no stream" as "empty stream", never as an error.
func EmptyStream() StreamDescriptor {
	return StreamDescriptor{File: os.DevNull, Generation: 0, Offset: 0}
}

// Console is the capability interface each backend implements.
// Backends are bound to one (target, console name) pair at
// construction.
type Console interface {
	// Enable brings the console up, running the backend's command
	// sequence if it has one, then records the ENABLED state and bumps
	// the stream generation. A handshake failure forces Disable before
	// the error returns.
	Enable(ctx context.Context) error

	// Disable records the DISABLED state. Captured data is left
	// untouched.
	Disable() error

	// State reports the backend's live condition — input file exists,
	// bridge session alive — which can disagree with the persisted
	// enabled flag when a link dies.
	State() (bool, error)

	// Setup applies backend-specific parameters.
	Setup(parameters map[string]string) error

	// Read returns a descriptor for captured data from the given
	// offset. It never fails for a console that simply has no data
	// yet.
	Read(offset int64) (StreamDescriptor, error)

	// Size returns the captured byte count. ok=false is the "disabled,
	// no data" sentinel — a trinary result, not an error.
	Size() (size int64, ok bool, err error)

	// Write sends bytes to the physical target's input.
	Write(data []byte) error
}

// Target is the explicit per-target context handed to console
// backends: its state directory, property store, logger, and clock.
// Lifecycle is owned by whoever assembles the target.
type Target struct {
	Name     string
	StateDir string
	Store    *property.Store
	Log      *slog.Logger
	Clock    clock.Clock
}

// Property keys shared by the protocol, per console name.
const (
	generationKeySuffix = ".generation"
	stateKeySuffix      = ".state"
	lastSizeKeySuffix   = ".last_size"
	checkKeySuffix      = ".check_ts"

	consolePropertyPrefix = "interfaces.console."

	// DefaultConsoleKey persists an operator-chosen default console.
	DefaultConsoleKey = consolePropertyPrefix + "default"
)

func consoleKey(name, suffix string) string {
	return consolePropertyPrefix + name + suffix
}

// generation reads the persisted generation counter, defaulting to
// zero for a console that never recorded.
func (t *Target) generation(name string) int64 {
	value, err := t.Store.Get(consoleKey(name, generationKeySuffix))
	if err != nil {
		t.Log.Warn("reading console generation", "console", name, "error", err)
		return 0
	}
	if g, ok := value.(int64); ok {
		return g
	}
	return 0
}

// bumpGeneration advances the generation counter. Wall-clock seconds
// give distinct values across process restarts; when the clock has not
// advanced past the last value, last+1 keeps the counter strictly
// increasing. Best-effort housekeeping: failures are logged, never
// surfaced.
func (t *Target) bumpGeneration(name string) {
	last := t.generation(name)
	next := t.Clock.Now().Unix()
	if next <= last {
		next = last + 1
	}
	if err := t.Store.Set(consoleKey(name, generationKeySuffix), next); err != nil {
		t.Log.Warn("bumping console generation", "console", name, "error", err)
	}
}

// noteSize records an observed stream size and bumps the generation
// when the stream shrank — the signature of a recreated capture file.
// Best-effort, like bumpGeneration.
func (t *Target) noteSize(name string, size int64) {
	key := consoleKey(name, lastSizeKeySuffix)
	value, err := t.Store.Get(key)
	if err != nil {
		t.Log.Warn("reading console last size", "console", name, "error", err)
		return
	}
	last, _ := value.(int64)
	if size > 0 && size < last {
		t.bumpGeneration(name)
	}
	if size != last {
		if err := t.Store.Set(key, size); err != nil {
			t.Log.Warn("recording console size", "console", name, "error", err)
		}
	}
}

// shallBeEnabled reads the persisted enabled flag.
func (t *Target) shallBeEnabled(name string) bool {
	value, err := t.Store.Get(consoleKey(name, stateKeySuffix))
	if err != nil {
		return false
	}
	enabled, _ := value.(bool)
	return enabled
}

// setShallBeEnabled writes the persisted enabled flag.
func (t *Target) setShallBeEnabled(name string, enabled bool) error {
	return t.Store.Set(consoleKey(name, stateKeySuffix), enabled)
}
