// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LogfileConsole exposes a file some other subsystem writes — a BMC
// event log, a hypervisor's guest log — as a read-only console. There
// is nothing to bring up or tear down; the console is "enabled"
// whenever the file exists.
type LogfileConsole struct {
	target *Target
	name   string
	path   string
}

// NewLogfileConsole returns a read-only console over the file at path.
// Relative paths are resolved against the target's state directory.
func NewLogfileConsole(target *Target, name, path string) *LogfileConsole {
	if !filepath.IsAbs(path) {
		path = filepath.Join(target.StateDir, path)
	}
	return &LogfileConsole{target: target, name: name, path: path}
}

// Enable is ignored; the console is up whenever the file exists.
func (c *LogfileConsole) Enable(context.Context) error { return nil }

// Disable removes the logfile, the only way to stop exposing a stream
// targetd does not produce.
func (c *LogfileConsole) Disable() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing logfile: %w", err)
	}
	return nil
}

func (c *LogfileConsole) State() (bool, error) {
	_, err := os.Stat(c.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Setup removes the logfile, the only sensible parameter-less reset
// for a stream targetd does not produce.
func (c *LogfileConsole) Setup(parameters map[string]string) error {
	if len(parameters) > 0 {
		return fmt.Errorf("logfile console %s takes no parameters", c.name)
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing logfile: %w", err)
	}
	return nil
}

func (c *LogfileConsole) Read(offset int64) (StreamDescriptor, error) {
	info, err := os.Stat(c.path)
	switch {
	case err == nil:
		c.target.noteSize(c.name, info.Size())
	case !errors.Is(err, fs.ErrNotExist):
		return StreamDescriptor{}, err
	}
	return StreamDescriptor{
		File:       c.path,
		Generation: c.target.generation(c.name),
		Offset:     offset,
	}, nil
}

func (c *LogfileConsole) Size() (int64, bool, error) {
	info, err := os.Stat(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	c.target.noteSize(c.name, info.Size())
	return info.Size(), true, nil
}

func (c *LogfileConsole) Write([]byte) error {
	return fmt.Errorf("console %s: %w", c.name, ErrReadOnly)
}
