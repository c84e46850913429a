// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/targetd-foundation/targetd/lib/clock"
)

// fakeConsole is a scriptable backend for registry behavior tests.
type fakeConsole struct {
	target  *Target
	name    string
	live    bool
	enables int
	writes  [][]byte
	file    string
}

func (f *fakeConsole) Enable(context.Context) error {
	f.enables++
	f.live = true
	return f.target.setShallBeEnabled(f.name, true)
}

func (f *fakeConsole) Disable() error {
	f.live = false
	return f.target.setShallBeEnabled(f.name, false)
}

func (f *fakeConsole) State() (bool, error) { return f.live, nil }

func (f *fakeConsole) Setup(map[string]string) error { return nil }

func (f *fakeConsole) Read(offset int64) (StreamDescriptor, error) {
	return StreamDescriptor{File: f.file, Generation: 1, Offset: offset}, nil
}

func (f *fakeConsole) Size() (int64, bool, error) { return 0, f.live, nil }

func (f *fakeConsole) Write(data []byte) error {
	if !f.live {
		return ErrDisabled
	}
	f.writes = append(f.writes, data)
	return nil
}

// fixedOwner grants or denies ownership to everyone.
type fixedOwner bool

func (o fixedOwner) Owns(string) bool { return bool(o) }

func addFake(t *testing.T, registry *Registry, target *Target, name string) *fakeConsole {
	t.Helper()
	fake := &fakeConsole{target: target, name: name}
	registry.Add(name, fake)
	return fake
}

func TestRegistryDefaultResolution(t *testing.T) {
	target := newTarget(t)
	registry := NewRegistry(target, nil)

	if _, err := registry.DefaultName(); !errors.Is(err, ErrNoConsole) {
		t.Errorf("DefaultName on empty registry = %v, want ErrNoConsole", err)
	}

	addFake(t, registry, target, "ttyS1")
	addFake(t, registry, target, "ttyS0")

	// No alias, nothing persisted: first sorted name.
	name, err := registry.DefaultName()
	if err != nil || name != "ttyS0" {
		t.Errorf("DefaultName = %s, %v; want ttyS0", name, err)
	}

	// A "default" alias overrides the sorted fallback.
	if err := registry.AddAlias("default", "ttyS1"); err != nil {
		t.Fatal(err)
	}
	name, err = registry.DefaultName()
	if err != nil || name != "ttyS1" {
		t.Errorf("DefaultName with alias = %s, %v; want ttyS1", name, err)
	}

	// The persisted operator choice overrides everything.
	if err := registry.SetDefault("anyone", "ttyS0"); err != nil {
		t.Fatal(err)
	}
	name, err = registry.DefaultName()
	if err != nil || name != "ttyS0" {
		t.Errorf("DefaultName persisted = %s, %v; want ttyS0", name, err)
	}
}

func TestRegistryClearsStaleDefault(t *testing.T) {
	target := newTarget(t)
	registry := NewRegistry(target, nil)
	addFake(t, registry, target, "ttyS0")

	// A default persisted for a console that was since removed from
	// the configuration.
	if err := target.Store.Set(DefaultConsoleKey, "gone"); err != nil {
		t.Fatal(err)
	}
	name, err := registry.DefaultName()
	if err != nil || name != "ttyS0" {
		t.Fatalf("DefaultName = %s, %v; want ttyS0", name, err)
	}
	value, err := target.Store.Get(DefaultConsoleKey)
	if err != nil {
		t.Fatal(err)
	}
	if value != nil {
		t.Errorf("stale default still persisted: %#v", value)
	}
}

func TestRegistryAliases(t *testing.T) {
	target := newTarget(t)
	registry := NewRegistry(target, nil)
	fake := addFake(t, registry, target, "ttyS0")

	if err := registry.AddAlias("serial", "ttyS0"); err != nil {
		t.Fatal(err)
	}
	if err := registry.AddAlias("bad", "nope"); !errors.Is(err, ErrNoConsole) {
		t.Errorf("AddAlias to missing console = %v, want ErrNoConsole", err)
	}

	if err := registry.Enable(context.Background(), "me", "serial"); err != nil {
		t.Fatalf("Enable via alias: %v", err)
	}
	if fake.enables != 1 {
		t.Errorf("enables = %d, want 1", fake.enables)
	}

	// "bad" was rejected, so it must not be listed.
	names := registry.Names()
	want := []string{"serial", "ttyS0"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names = %v, want %v", names, want)
			break
		}
	}
}

func TestRegistryOwnershipGating(t *testing.T) {
	target := newTarget(t)
	registry := NewRegistry(target, fixedOwner(false))
	fake := addFake(t, registry, target, "ttyS0")
	fake.live = true
	fake.file = os.DevNull
	ctx := context.Background()

	if err := registry.Enable(ctx, "intruder", "ttyS0"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Enable = %v, want ErrNotOwner", err)
	}
	if err := registry.Disable("intruder", "ttyS0"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Disable = %v, want ErrNotOwner", err)
	}
	if err := registry.Setup("intruder", "ttyS0", nil); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Setup = %v, want ErrNotOwner", err)
	}
	if err := registry.Write(ctx, "intruder", "ttyS0", []byte("x")); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Write = %v, want ErrNotOwner", err)
	}
	if err := registry.SetDefault("intruder", "ttyS0"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("SetDefault = %v, want ErrNotOwner", err)
	}

	// Reads and sizes are not gated.
	if _, err := registry.Read(ctx, "ttyS0", 0); err != nil {
		t.Errorf("Read = %v, want nil", err)
	}
	if _, _, err := registry.Size("ttyS0"); err != nil {
		t.Errorf("Size = %v, want nil", err)
	}
}

func TestRegistryReadMissingStreamIsEmpty(t *testing.T) {
	target := newTarget(t)
	registry := NewRegistry(target, nil)
	fake := addFake(t, registry, target, "ttyS0")
	fake.file = filepath.Join(target.StateDir, "console-ttyS0.read")

	descriptor, err := registry.Read(context.Background(), "ttyS0", 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if descriptor != EmptyStream() {
		t.Errorf("descriptor = %#v, want the empty stream sentinel", descriptor)
	}

	// Once the recorder produced data the real descriptor flows.
	if err := os.WriteFile(fake.file, []byte("output"), 0o644); err != nil {
		t.Fatal(err)
	}
	descriptor, err = registry.Read(context.Background(), "ttyS0", 100)
	if err != nil {
		t.Fatal(err)
	}
	if descriptor.File != fake.file || descriptor.Offset != 100 {
		t.Errorf("descriptor = %#v", descriptor)
	}
}

func TestRegistrySelfHealingThrottled(t *testing.T) {
	target := newTarget(t)
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	target.Clock = fake
	registry := NewRegistry(target, nil)
	console := addFake(t, registry, target, "ttyS0")
	console.file = os.DevNull

	// Recorded as enabled, but the link is dead.
	if err := target.setShallBeEnabled("ttyS0", true); err != nil {
		t.Fatal(err)
	}
	console.live = false
	ctx := context.Background()

	if _, err := registry.Read(ctx, "ttyS0", 0); err != nil {
		t.Fatal(err)
	}
	if console.enables != 1 {
		t.Fatalf("enables after first read = %d, want 1", console.enables)
	}

	// Dead again right away: the probe is throttled, no re-enable.
	console.live = false
	if _, err := registry.Read(ctx, "ttyS0", 0); err != nil {
		t.Fatal(err)
	}
	if console.enables != 1 {
		t.Errorf("enables within throttle window = %d, want 1", console.enables)
	}

	// Past the throttle window the probe runs again.
	fake.Advance(6 * time.Second)
	if _, err := registry.Read(ctx, "ttyS0", 0); err != nil {
		t.Fatal(err)
	}
	if console.enables != 2 {
		t.Errorf("enables after window = %d, want 2", console.enables)
	}

	// A console that shall be disabled is left alone.
	if err := console.Disable(); err != nil {
		t.Fatal(err)
	}
	fake.Advance(6 * time.Second)
	if _, err := registry.Read(ctx, "ttyS0", 0); err != nil {
		t.Fatal(err)
	}
	if console.enables != 2 {
		t.Errorf("disabled console was re-enabled: enables = %d", console.enables)
	}
}

func TestRegistryWriteReEnablesDeadConsole(t *testing.T) {
	target := newTarget(t)
	registry := NewRegistry(target, fixedOwner(true))
	console := addFake(t, registry, target, "ttyS0")
	ctx := context.Background()

	// Shall be enabled, link dead: the write re-enables and retries.
	if err := target.setShallBeEnabled("ttyS0", true); err != nil {
		t.Fatal(err)
	}
	console.live = false
	if err := registry.Write(ctx, "me", "ttyS0", []byte("reset\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if console.enables != 1 || len(console.writes) != 1 {
		t.Errorf("enables=%d writes=%d, want 1 and 1", console.enables, len(console.writes))
	}

	// Deliberately disabled: the write fails, no resurrection.
	if err := console.Disable(); err != nil {
		t.Fatal(err)
	}
	err := registry.Write(ctx, "me", "ttyS0", []byte("nope\n"))
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Write to disabled console = %v, want ErrDisabled", err)
	}
	if console.enables != 1 {
		t.Errorf("disabled console re-enabled by write: enables = %d", console.enables)
	}
}
