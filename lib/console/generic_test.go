// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/targetd-foundation/targetd/lib/clock"
	"github.com/targetd-foundation/targetd/lib/property"
)

func newTarget(t *testing.T) *Target {
	t.Helper()
	dir := t.TempDir()
	store, err := property.Open(dir)
	if err != nil {
		t.Fatalf("property.Open: %v", err)
	}
	return &Target{
		Name:     "qu05a",
		StateDir: dir,
		Store:    store,
		Log:      discardLogger(),
		Clock:    clock.Real(),
	}
}

func TestFileConsoleEnableDisable(t *testing.T) {
	target := newTarget(t)
	console := NewFileConsole(target, "ttyS0", FileConsoleConfig{})
	ctx := context.Background()

	live, err := console.State()
	if err != nil || live {
		t.Fatalf("State before enable = %v, %v; want false, nil", live, err)
	}

	if err := console.Enable(ctx); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	live, err = console.State()
	if err != nil || !live {
		t.Errorf("State after enable = %v, %v; want true, nil", live, err)
	}
	if !target.shallBeEnabled("ttyS0") {
		t.Error("persisted state not recorded as enabled")
	}
	if target.generation("ttyS0") == 0 {
		t.Error("enable did not start a capture generation")
	}

	if err := console.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	live, err = console.State()
	if err != nil || live {
		t.Errorf("State after disable = %v, %v; want false, nil", live, err)
	}
	if target.shallBeEnabled("ttyS0") {
		t.Error("persisted state still enabled after disable")
	}
	// The capture stream survives a disable.
	if _, err := os.Stat(console.readPath()); err != nil {
		t.Errorf("capture stream gone after disable: %v", err)
	}
}

func TestFileConsoleEnableHandshake(t *testing.T) {
	target := newTarget(t)
	console := NewFileConsole(target, "ssh0", FileConsoleConfig{
		Sequence: &CommandSequence{
			Steps:       []Step{SendExpect("console on\n", regexp.MustCompile(`bridge> `))},
			StepTimeout: 2 * time.Second,
		},
	})

	// Play the recorder: answer the command once it lands in the input
	// file.
	go func() {
		for {
			data, err := os.ReadFile(console.writePath())
			if err == nil && len(data) > 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		f, err := os.OpenFile(console.readPath(), os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		f.WriteString("bridge> ")
	}()

	if err := console.Enable(context.Background()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !target.shallBeEnabled("ssh0") {
		t.Error("persisted state not enabled after successful handshake")
	}
}

func TestFileConsoleEnableHandshakeFailureDisables(t *testing.T) {
	target := newTarget(t)
	console := NewFileConsole(target, "ssh0", FileConsoleConfig{
		Sequence: &CommandSequence{
			Steps:       []Step{SendExpect("hello\n", regexp.MustCompile(`never`))},
			StepTimeout: 10 * time.Millisecond,
			Tries:       1,
		},
	})

	err := console.Enable(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Enable error = %v, want ErrHandshakeTimeout", err)
	}
	if live, _ := console.State(); live {
		t.Error("console live after failed handshake")
	}
	if target.shallBeEnabled("ssh0") {
		t.Error("persisted state enabled after failed handshake")
	}
	if target.generation("ssh0") != 0 {
		t.Error("failed enable started a capture generation")
	}
}

func TestFileConsoleReadDescriptor(t *testing.T) {
	target := newTarget(t)
	console := NewFileConsole(target, "ttyS0", FileConsoleConfig{})
	if err := console.Enable(context.Background()); err != nil {
		t.Fatal(err)
	}

	descriptor, err := console.Read(37)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if descriptor.File != console.readPath() {
		t.Errorf("File = %s, want %s", descriptor.File, console.readPath())
	}
	if descriptor.Generation != target.generation("ttyS0") {
		t.Errorf("Generation = %d, want %d",
			descriptor.Generation, target.generation("ttyS0"))
	}
	if descriptor.Offset != 37 {
		t.Errorf("Offset = %d, want 37", descriptor.Offset)
	}
}

func TestGenerationBumpsWhenStreamShrinks(t *testing.T) {
	target := newTarget(t)
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	target.Clock = fake
	console := NewFileConsole(target, "ttyS0", FileConsoleConfig{})
	if err := console.Enable(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := target.generation("ttyS0")

	if err := os.WriteFile(console.readPath(), []byte("a long capture session"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := console.Read(0); err != nil {
		t.Fatal(err)
	}
	if got := target.generation("ttyS0"); got != before {
		t.Fatalf("generation moved on growth: %d -> %d", before, got)
	}

	// The recorder restarted and the stream was recreated smaller.
	if err := os.WriteFile(console.readPath(), []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := console.Read(0); err != nil {
		t.Fatal(err)
	}
	if got := target.generation("ttyS0"); got <= before {
		t.Errorf("generation = %d after shrink, want > %d", got, before)
	}
}

func TestGenerationStrictlyIncreasesOnFrozenClock(t *testing.T) {
	target := newTarget(t)
	target.Clock = clock.Fake(time.Unix(1_700_000_000, 0))

	target.bumpGeneration("ttyS0")
	first := target.generation("ttyS0")
	target.bumpGeneration("ttyS0")
	second := target.generation("ttyS0")
	if second != first+1 {
		t.Errorf("generations = %d then %d, want strictly increasing", first, second)
	}
}

func TestFileConsoleWriteTranslation(t *testing.T) {
	target := newTarget(t)
	console := NewFileConsole(target, "ttyS0", FileConsoleConfig{
		ChunkSize:      4,
		InterchunkWait: time.Millisecond,
		CRLF:           "\r\n",
		EscapeChars:    map[byte]string{0x1b: "\x1b"},
	})
	if err := console.Enable(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := console.Write([]byte("ls\n\x1bq")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(console.writePath())
	if err != nil {
		t.Fatal(err)
	}
	want := "ls\r\n\x1b\x1bq"
	if string(got) != want {
		t.Errorf("input file = %q, want %q", got, want)
	}
}

func TestFileConsoleWriteDisabled(t *testing.T) {
	target := newTarget(t)
	console := NewFileConsole(target, "ttyS0", FileConsoleConfig{})
	if err := console.Write([]byte("hello")); !errors.Is(err, ErrDisabled) {
		t.Errorf("Write error = %v, want ErrDisabled", err)
	}
}

func TestFileConsoleSizeTrinary(t *testing.T) {
	target := newTarget(t)
	console := NewFileConsole(target, "ttyS0", FileConsoleConfig{})

	// Disabled: no size at all.
	if _, ok, err := console.Size(); err != nil || ok {
		t.Errorf("Size disabled = ok=%v, err=%v; want ok=false, nil", ok, err)
	}

	if err := console.Enable(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(console.readPath(), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	size, ok, err := console.Size()
	if err != nil || !ok || size != 5 {
		t.Errorf("Size = %d, %v, %v; want 5, true, nil", size, ok, err)
	}

	// Enabled but the recorder produced nothing yet: zero, not an
	// error.
	if err := os.Remove(console.readPath()); err != nil {
		t.Fatal(err)
	}
	size, ok, err = console.Size()
	if err != nil || !ok || size != 0 {
		t.Errorf("Size = %d, %v, %v; want 0, true, nil", size, ok, err)
	}
}

func TestLogfileConsoleReadOnly(t *testing.T) {
	target := newTarget(t)
	path := filepath.Join(target.StateDir, "bmc-events.log")
	console := NewLogfileConsole(target, "bmc", "bmc-events.log")

	if live, err := console.State(); err != nil || live {
		t.Errorf("State = %v, %v; want false, nil", live, err)
	}
	if _, ok, err := console.Size(); err != nil || ok {
		t.Errorf("Size of missing logfile ok=%v err=%v; want false, nil", ok, err)
	}

	if err := os.WriteFile(path, []byte("event: power on\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if live, err := console.State(); err != nil || !live {
		t.Errorf("State = %v, %v; want true, nil", live, err)
	}
	descriptor, err := console.Read(0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if descriptor.File != path {
		t.Errorf("File = %s, want %s", descriptor.File, path)
	}

	if err := console.Write([]byte("no")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write error = %v, want ErrReadOnly", err)
	}

	if err := console.Setup(nil); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Setup did not remove the logfile: %v", err)
	}

	// Disable removes the file too; on a missing file it is a no-op.
	if err := os.WriteFile(path, []byte("event: power off\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := console.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Disable did not remove the logfile: %v", err)
	}
	if err := console.Disable(); err != nil {
		t.Errorf("Disable of missing logfile: %v", err)
	}
}
