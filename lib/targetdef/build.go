// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package targetdef

import (
	"fmt"
	"regexp"
	"time"

	"github.com/targetd-foundation/targetd/lib/console"
)

// BuildRegistry constructs the console registry for one target from
// its definition. The definition is assumed to have passed Validate;
// errors here are construction failures (which Validate cannot see),
// not re-reported structural issues.
func BuildRegistry(def TargetDef, target *console.Target, owner console.Ownership) (*console.Registry, error) {
	registry := console.NewRegistry(target, owner)

	for _, consoleDef := range def.Consoles {
		backend, err := buildConsole(consoleDef, target)
		if err != nil {
			return nil, fmt.Errorf("target %s console %s: %w", def.Name, consoleDef.Name, err)
		}
		registry.Add(consoleDef.Name, backend)
	}
	for _, consoleDef := range def.Consoles {
		for _, alias := range consoleDef.Aliases {
			if err := registry.AddAlias(alias, consoleDef.Name); err != nil {
				return nil, fmt.Errorf("target %s: %w", def.Name, err)
			}
		}
	}
	if def.DefaultConsole != "" {
		if err := registry.AddAlias("default", def.DefaultConsole); err != nil {
			return nil, fmt.Errorf("target %s: %w", def.Name, err)
		}
	}
	return registry, nil
}

func buildConsole(def ConsoleDef, target *console.Target) (console.Console, error) {
	sequence, err := buildSequence(def)
	if err != nil {
		return nil, err
	}

	switch def.Type {
	case "file":
		config := console.FileConsoleConfig{
			Sequence:  sequence,
			ChunkSize: def.ChunkSize,
			CRLF:      def.CRLF,
		}
		if def.InterchunkWait != "" {
			config.InterchunkWait, err = time.ParseDuration(def.InterchunkWait)
			if err != nil {
				return nil, fmt.Errorf("interchunk_wait: %w", err)
			}
		}
		if len(def.EscapeChars) > 0 {
			config.EscapeChars = make(map[byte]string, len(def.EscapeChars))
			for key, prefix := range def.EscapeChars {
				if len(key) != 1 {
					return nil, fmt.Errorf("escape_chars key %q must be a single byte", key)
				}
				config.EscapeChars[key[0]] = prefix
			}
		}
		return console.NewFileConsole(target, def.Name, config), nil

	case "logfile":
		return console.NewLogfileConsole(target, def.Name, def.Path), nil

	case "ssh":
		config := console.SSHConsoleConfig{
			Addr:     def.Addr,
			User:     def.User,
			Password: def.Password,
			Command:  def.Command,
			Sequence: sequence,
		}
		return console.NewSSHConsole(target, def.Name, config), nil

	default:
		return nil, fmt.Errorf("unknown console type %q", def.Type)
	}
}

func buildSequence(def ConsoleDef) (*console.CommandSequence, error) {
	if len(def.Handshake) == 0 {
		return nil, nil
	}
	sequence := &console.CommandSequence{Tries: def.StepTries}
	if def.StepTimeout != "" {
		timeout, err := time.ParseDuration(def.StepTimeout)
		if err != nil {
			return nil, fmt.Errorf("step_timeout: %w", err)
		}
		sequence.StepTimeout = timeout
	}
	for index, stepDef := range def.Handshake {
		if stepDef.Wait != "" {
			wait, err := time.ParseDuration(stepDef.Wait)
			if err != nil {
				return nil, fmt.Errorf("handshake[%d]: wait: %w", index, err)
			}
			sequence.Steps = append(sequence.Steps, console.WaitStep(wait, stepDef.Comment))
			continue
		}
		step := console.Step{Send: stepDef.Send, Comment: stepDef.Comment}
		for _, pattern := range stepDef.Expect {
			compiled, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("handshake[%d]: expect: %w", index, err)
			}
			step.Expect = append(step.Expect, compiled)
		}
		sequence.Steps = append(sequence.Steps, step)
	}
	return sequence, nil
}
