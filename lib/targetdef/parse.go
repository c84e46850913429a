// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// Package targetdef provides parsing, validation, and console
// construction for targetd target definitions. A definition file
// declares the broker's targets and, per target, the consoles it
// exposes: file-backed serial captures, read-only appliance logfiles,
// and SSH bridges, with optional enable handshakes.
//
// Definition files are authored as JSONC (JSON extended with comments
// and trailing commas), the format operators actually want for files
// that accumulate per-rack annotations.
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Definition
//  2. Validate: structural checks (types, durations, regexes, aliases)
//  3. BuildRegistry: construct console backends for one target
package targetdef

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Definition is the root of a target definition file.
type Definition struct {
	// Targets lists every target this broker serves.
	Targets []TargetDef `json:"targets"`
}

// TargetDef declares one target and its consoles.
type TargetDef struct {
	// Name is the target identifier, used as its state directory name.
	Name string `json:"name"`

	// Consoles lists the target's console backends.
	Consoles []ConsoleDef `json:"consoles"`

	// DefaultConsole names the console used when a client does not
	// specify one. Optional; the registry falls back to a "default"
	// alias and then to the first console in sorted order.
	DefaultConsole string `json:"default_console,omitempty"`
}

// ConsoleDef declares one console backend.
type ConsoleDef struct {
	// Name identifies the console within its target.
	Name string `json:"name"`

	// Type selects the backend: "file", "logfile", or "ssh".
	Type string `json:"type"`

	// Aliases are additional names resolving to this console. An
	// alias of "default" marks it as the fallback default.
	Aliases []string `json:"aliases,omitempty"`

	// File backend parameters.

	// ChunkSize breaks writes into chunks for receivers without flow
	// control. Zero disables chunking.
	ChunkSize int `json:"chunk_size,omitempty"`

	// InterchunkWait is the pause between chunks, as a Go duration
	// string ("200ms").
	InterchunkWait string `json:"interchunk_wait,omitempty"`

	// CRLF replaces newlines in written data ("\r\n", "\r").
	CRLF string `json:"crlf,omitempty"`

	// EscapeChars maps single input characters to a prefix sent
	// before each occurrence.
	EscapeChars map[string]string `json:"escape_chars,omitempty"`

	// Logfile backend parameters.

	// Path is the logfile location, absolute or relative to the
	// target's state directory.
	Path string `json:"path,omitempty"`

	// SSH backend parameters.

	Addr     string `json:"addr,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Command  string `json:"command,omitempty"`

	// Handshake, when present, is the command sequence run by Enable.
	Handshake   []HandshakeStepDef `json:"handshake,omitempty"`
	StepTimeout string             `json:"step_timeout,omitempty"`
	StepTries   int                `json:"step_tries,omitempty"`
}

// HandshakeStepDef declares one handshake step. A step either waits
// (Wait set) or exchanges (Send and/or Expect set).
type HandshakeStepDef struct {
	// Wait pauses for this duration ("2s") before the next step.
	Wait string `json:"wait,omitempty"`

	// Comment describes what the step is waiting for; logged.
	Comment string `json:"comment,omitempty"`

	// Send is written verbatim to the console input.
	Send string `json:"send,omitempty"`

	// Expect lists regular expressions; the step completes when any
	// of them matches the capture stream.
	Expect []string `json:"expect,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Definition.
func Parse(data []byte) (*Definition, error) {
	stripped := jsonc.ToJSON(data)

	var definition Definition
	if err := json.Unmarshal(stripped, &definition); err != nil {
		return nil, fmt.Errorf("parsing target definition: %w", err)
	}
	return &definition, nil
}

// ReadFile reads a JSONC definition file from disk and parses it.
func ReadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	definition, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return definition, nil
}
