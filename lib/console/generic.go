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
	"strings"
	"time"
)

// FileConsoleConfig tunes a [FileConsole]. The zero value is a plain
// pass-through console with no handshake.
type FileConsoleConfig struct {
	// Sequence, when set, is the handshake run by Enable before the
	// console is declared up.
	Sequence *CommandSequence

	// ChunkSize breaks writes into chunks of this many bytes with
	// InterchunkWait pauses in between. Some receivers (VM consoles,
	// BMC serial-over-LAN) have no working flow control and drop input
	// fed too fast. Zero disables chunking.
	ChunkSize int

	// InterchunkWait is the pause between chunks. Zero means 200ms.
	InterchunkWait time.Duration

	// EscapeChars maps input bytes to a prefix sent before each
	// occurrence, for receivers that steal bytes as command escapes.
	EscapeChars map[byte]string

	// CRLF, when non-empty, replaces every newline in written data.
	// Clients write the platform-neutral "\n"; the physical console
	// may need "\r\n" or "\r".
	CRLF string
}

// FileConsole is the general console backend: an external recorder
// (usually a power-rail daemon such as socat) appends target output to
// console-NAME.read in the target's state directory and forwards
// whatever appears in console-NAME.write to the target's input. The
// backend itself holds no runtime state; everything lives in the two
// files and the property store, so it survives daemon restarts.
type FileConsole struct {
	target *Target
	name   string
	config FileConsoleConfig
}

// NewFileConsole returns a file-backed console named name on target.
func NewFileConsole(target *Target, name string, config FileConsoleConfig) *FileConsole {
	if config.InterchunkWait <= 0 {
		config.InterchunkWait = 200 * time.Millisecond
	}
	return &FileConsole{target: target, name: name, config: config}
}

func (c *FileConsole) readPath() string {
	return filepath.Join(c.target.StateDir, "console-"+c.name+".read")
}

func (c *FileConsole) writePath() string {
	return filepath.Join(c.target.StateDir, "console-"+c.name+".write")
}

// touch creates path empty if it does not exist, leaving existing
// content alone.
func touch(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

// Enable brings the console up. The capture and input files are
// created so the recorder and the handshake have something to attach
// to; if a handshake is configured and fails, the console is forced
// back to DISABLED before the error returns.
func (c *FileConsole) Enable(ctx context.Context) error {
	if err := touch(c.readPath()); err != nil {
		return fmt.Errorf("creating capture stream: %w", err)
	}
	if err := touch(c.writePath()); err != nil {
		return fmt.Errorf("creating input file: %w", err)
	}
	if c.config.Sequence != nil {
		input, err := os.OpenFile(c.writePath(), os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening input file: %w", err)
		}
		err = c.config.Sequence.Run(ctx, c.target.Clock,
			c.target.Log.With("console", c.name), input, c.readPath())
		input.Close()
		if err != nil {
			c.target.Log.Info("disabling console, enable handshake failed",
				"console", c.name, "error", err)
			if derr := c.Disable(); derr != nil {
				c.target.Log.Warn("disabling after failed handshake",
					"console", c.name, "error", derr)
			}
			return fmt.Errorf("enabling console %s: %w", c.name, err)
		}
	}
	if err := c.target.setShallBeEnabled(c.name, true); err != nil {
		return err
	}
	c.target.bumpGeneration(c.name)
	return nil
}

// Disable removes the input file, which tells the recorder to stop
// forwarding, and records the DISABLED state. The capture stream is
// kept; clients may still read what was recorded.
func (c *FileConsole) Disable() error {
	if err := os.Remove(c.writePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing input file: %w", err)
	}
	return c.target.setShallBeEnabled(c.name, false)
}

// State reports the live condition: the recorder removes the input
// file when it dies, so its existence is the liveness signal.
func (c *FileConsole) State() (bool, error) {
	_, err := os.Stat(c.writePath())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Setup persists backend parameters under the console's property
// namespace. An empty map clears all previously set parameters.
func (c *FileConsole) Setup(parameters map[string]string) error {
	prefix := consoleKey(c.name, ".setup")
	if err := c.target.Store.Set(prefix, nil); err != nil {
		return err
	}
	for key, value := range parameters {
		if key == "crlf" {
			c.config.CRLF = value
		}
		if err := c.target.Store.Set(prefix+"."+key, value); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the descriptor for the capture stream at offset. When
// the stream exists its size is noted so a shrink (recorder restart)
// bumps the generation before the descriptor is built.
func (c *FileConsole) Read(offset int64) (StreamDescriptor, error) {
	info, err := os.Stat(c.readPath())
	switch {
	case err == nil:
		c.target.noteSize(c.name, info.Size())
	case !errors.Is(err, fs.ErrNotExist):
		return StreamDescriptor{}, err
	}
	return StreamDescriptor{
		File:       c.readPath(),
		Generation: c.target.generation(c.name),
		Offset:     offset,
	}, nil
}

// Size returns the captured byte count; ok=false when the console is
// disabled. A missing capture file on an enabled console means the
// recorder has not produced anything yet, which is size zero, not an
// error.
func (c *FileConsole) Size() (int64, bool, error) {
	live, err := c.State()
	if err != nil {
		return 0, false, err
	}
	if !live {
		return 0, false, nil
	}
	info, err := os.Stat(c.readPath())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	c.target.noteSize(c.name, info.Size())
	return info.Size(), true, nil
}

// Write appends data to the input file after newline translation and
// escaping, chunked if configured. A missing input file means the
// console is down; the caller decides whether to re-enable.
func (c *FileConsole) Write(data []byte) error {
	if _, err := os.Stat(c.writePath()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("console %s: %w", c.name, ErrDisabled)
		}
		return err
	}
	if c.config.CRLF != "" && c.config.CRLF != "\n" {
		data = []byte(strings.ReplaceAll(string(data), "\n", c.config.CRLF))
	}
	if len(c.config.EscapeChars) > 0 {
		data = escapeBytes(data, c.config.EscapeChars)
	}

	file, err := os.OpenFile(c.writePath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening input file: %w", err)
	}
	defer file.Close()

	if c.config.ChunkSize <= 0 {
		_, err := file.Write(data)
		return err
	}
	for len(data) > 0 {
		chunk := min(len(data), c.config.ChunkSize)
		if _, err := file.Write(data[:chunk]); err != nil {
			return err
		}
		data = data[chunk:]
		if len(data) > 0 {
			c.target.Clock.Sleep(c.config.InterchunkWait)
		}
	}
	return nil
}

func escapeBytes(data []byte, escapes map[byte]string) []byte {
	escaped := make([]byte, 0, len(data))
	for _, b := range data {
		if prefix, ok := escapes[b]; ok {
			escaped = append(escaped, prefix...)
		}
		escaped = append(escaped, b)
	}
	return escaped
}
