// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"
)

// Ownership answers whether a caller currently holds the target.
// Mutating console operations are gated on it; reads are not, so an
// operator can watch a console someone else drives.
type Ownership interface {
	Owns(who string) bool
}

// reEnableCheckInterval throttles the self-healing liveness probe.
// Links die quietly (SOL connections get closed, SSH bridges get
// killed), so every read checks whether a console that shall be
// enabled is still alive — but at most once per interval, because the
// probe can be expensive and clients poll fast.
const reEnableCheckInterval = 5 * time.Second

// Registry multiplexes a target's named consoles: backend lookup,
// aliases, default resolution, ownership gating, and self-healing of
// consoles whose link died underneath them.
type Registry struct {
	target   *Target
	owner    Ownership
	consoles map[string]Console
	aliases  map[string]string
}

// NewRegistry returns an empty registry for target. owner may be nil,
// which leaves mutating operations ungated (single-user brokers).
func NewRegistry(target *Target, owner Ownership) *Registry {
	return &Registry{
		target:   target,
		owner:    owner,
		consoles: make(map[string]Console),
		aliases:  make(map[string]string),
	}
}

// Add registers a console backend under name.
func (r *Registry) Add(name string, console Console) {
	r.consoles[name] = console
}

// AddAlias makes alias resolve to the console registered as name.
// An alias named "default" additionally marks that console as the
// fallback default.
func (r *Registry) AddAlias(alias, name string) error {
	if _, ok := r.consoles[name]; !ok {
		return fmt.Errorf("alias %s: %w: %s", alias, ErrNoConsole, name)
	}
	r.aliases[alias] = name
	return nil
}

// Names returns the registered console names, aliases included,
// sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.consoles)+len(r.aliases))
	for name := range r.consoles {
		names = append(names, name)
	}
	for alias := range r.aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// DefaultName resolves the default console: the persisted operator
// choice if it still names a console, else the "default" alias, else
// the first registered name in sorted order.
func (r *Registry) DefaultName() (string, error) {
	value, err := r.target.Store.Get(DefaultConsoleKey)
	if err != nil {
		return "", err
	}
	if persisted, ok := value.(string); ok {
		if _, _, err := r.lookup(persisted); err == nil {
			return persisted, nil
		}
		// A console that was removed from the configuration; reset so
		// the fallback applies from now on.
		r.target.Log.Warn("clearing stale default console", "console", persisted)
		if err := r.target.Store.Set(DefaultConsoleKey, nil); err != nil {
			return "", err
		}
	}
	if name, ok := r.aliases["default"]; ok {
		return name, nil
	}
	names := make([]string, 0, len(r.consoles))
	for name := range r.consoles {
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("target %s has no consoles: %w", r.target.Name, ErrNoConsole)
	}
	sort.Strings(names)
	return names[0], nil
}

// SetDefault persists name as the target's default console. Owner
// gated; an empty name clears the persisted choice.
func (r *Registry) SetDefault(who, name string) error {
	if err := r.checkOwner(who); err != nil {
		return err
	}
	if name == "" {
		return r.target.Store.Set(DefaultConsoleKey, nil)
	}
	if _, _, err := r.lookup(name); err != nil {
		return err
	}
	return r.target.Store.Set(DefaultConsoleKey, name)
}

// lookup resolves a console name or alias to its backend and real
// name. It does not apply the default; see resolve.
func (r *Registry) lookup(name string) (Console, string, error) {
	if real, ok := r.aliases[name]; ok {
		name = real
	}
	console, ok := r.consoles[name]
	if !ok {
		return nil, "", fmt.Errorf("target %s console %s: %w",
			r.target.Name, name, ErrNoConsole)
	}
	return console, name, nil
}

// resolve maps an empty name to the default console, then looks it up.
func (r *Registry) resolve(name string) (Console, string, error) {
	if name == "" {
		defaultName, err := r.DefaultName()
		if err != nil {
			return nil, "", err
		}
		name = defaultName
	}
	return r.lookup(name)
}

func (r *Registry) checkOwner(who string) error {
	if r.owner != nil && !r.owner.Owns(who) {
		return fmt.Errorf("%s: %w", who, ErrNotOwner)
	}
	return nil
}

// Enable enables the named (or default) console. Owner gated.
func (r *Registry) Enable(ctx context.Context, who, name string) error {
	if err := r.checkOwner(who); err != nil {
		return err
	}
	console, _, err := r.resolve(name)
	if err != nil {
		return err
	}
	return console.Enable(ctx)
}

// Disable disables the named (or default) console. Owner gated.
func (r *Registry) Disable(who, name string) error {
	if err := r.checkOwner(who); err != nil {
		return err
	}
	console, _, err := r.resolve(name)
	if err != nil {
		return err
	}
	return console.Disable()
}

// Setup applies backend parameters. Owner gated.
func (r *Registry) Setup(who, name string, parameters map[string]string) error {
	if err := r.checkOwner(who); err != nil {
		return err
	}
	console, _, err := r.resolve(name)
	if err != nil {
		return err
	}
	return console.Setup(parameters)
}

// State reports the named console's live condition. Not owner gated.
func (r *Registry) State(name string) (bool, error) {
	console, _, err := r.resolve(name)
	if err != nil {
		return false, err
	}
	return console.State()
}

// Size reports the named console's captured byte count. Not owner
// gated.
func (r *Registry) Size(name string) (int64, bool, error) {
	console, _, err := r.resolve(name)
	if err != nil {
		return 0, false, err
	}
	return console.Size()
}

// Read returns a stream descriptor for the named (or default) console.
// Not owner gated. Reads also drive the self-healing probe: at most
// once per reEnableCheckInterval, a console that is recorded as
// enabled but reports a dead link is re-enabled in place. A console
// that has produced no stream yet reads as the empty sentinel stream,
// never as an error.
func (r *Registry) Read(ctx context.Context, name string, offset int64) (StreamDescriptor, error) {
	console, realName, err := r.resolve(name)
	if err != nil {
		return StreamDescriptor{}, err
	}
	r.maybeReEnable(ctx, console, realName)

	descriptor, err := console.Read(offset)
	if err != nil {
		return StreamDescriptor{}, err
	}
	if descriptor.File != "" {
		if _, err := os.Stat(descriptor.File); errors.Is(err, fs.ErrNotExist) {
			return EmptyStream(), nil
		}
	}
	return descriptor, nil
}

// Write sends data to the named (or default) console. Owner gated.
// When the backend reports itself disabled but the persisted state
// says it shall be enabled, the link died on its own; re-enable once
// and retry.
func (r *Registry) Write(ctx context.Context, who, name string, data []byte) error {
	if err := r.checkOwner(who); err != nil {
		return err
	}
	console, realName, err := r.resolve(name)
	if err != nil {
		return err
	}
	err = console.Write(data)
	if errors.Is(err, ErrDisabled) && r.target.shallBeEnabled(realName) {
		r.target.Log.Warn("console died on its own, re-enabling for write",
			"console", realName)
		if err := console.Enable(ctx); err != nil {
			return err
		}
		return console.Write(data)
	}
	return err
}

// maybeReEnable is the throttled liveness probe run from Read.
// Best-effort: failures are logged and the read proceeds against
// whatever stream exists.
func (r *Registry) maybeReEnable(ctx context.Context, console Console, name string) {
	checkKey := consoleKey(name, checkKeySuffix)
	value, err := r.target.Store.Get(checkKey)
	if err != nil {
		r.target.Log.Warn("reading liveness check timestamp",
			"console", name, "error", err)
		return
	}
	lastCheck, _ := value.(int64)
	now := r.target.Clock.Now().Unix()
	if now-lastCheck <= int64(reEnableCheckInterval/time.Second) {
		return
	}
	if err := r.target.Store.Set(checkKey, now); err != nil {
		r.target.Log.Warn("recording liveness check timestamp",
			"console", name, "error", err)
	}
	if !r.target.shallBeEnabled(name) {
		return
	}
	live, err := console.State()
	if err != nil {
		r.target.Log.Warn("probing console liveness",
			"console", name, "error", err)
		return
	}
	if live {
		return
	}
	r.target.Log.Warn("console died on its own, re-enabling", "console", name)
	if err := console.Enable(ctx); err != nil {
		r.target.Log.Error("re-enabling console", "console", name, "error", err)
	}
}
