// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// targetd-property inspects and edits a target's property store from
// the broker host. It operates directly on the state directory, the
// same flat key/value store the daemon uses, so it works on targets
// whose daemon is stopped — which is exactly when an operator usually
// needs it.
//
// Usage:
//
//	targetd-property --state-dir DIR get KEY
//	targetd-property --state-dir DIR set KEY [VALUE] [--type TYPE]
//	targetd-property --state-dir DIR list [PATTERN...]
//
// Setting a key without a value deletes it, along with every subkey
// under it (KEY.*).
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/targetd-foundation/targetd/lib/property"
	"github.com/targetd-foundation/targetd/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var stateDir string
	var valueType string

	flagSet := pflag.NewFlagSet("targetd-property", pflag.ContinueOnError)
	flagSet.StringVar(&stateDir, "state-dir", "", "target state directory (required)")
	flagSet.StringVar(&valueType, "type", "string", "value type for set: string, int, float, bool")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("targetd-property %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	arguments := flagSet.Args()
	if len(arguments) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("a command is required: get, set, or list")
	}
	if stateDir == "" {
		return fmt.Errorf("--state-dir is required")
	}

	store, err := property.Open(stateDir)
	if err != nil {
		return err
	}

	switch command := arguments[0]; command {
	case "get":
		if len(arguments) != 2 {
			return fmt.Errorf("usage: get KEY")
		}
		return get(store, arguments[1])

	case "set":
		switch len(arguments) {
		case 2:
			return store.Set(arguments[1], nil)
		case 3:
			value, err := parseValue(arguments[2], valueType)
			if err != nil {
				return err
			}
			return store.Set(arguments[1], value)
		default:
			return fmt.Errorf("usage: set KEY [VALUE]")
		}

	case "list":
		return list(store, arguments[1:])

	default:
		return fmt.Errorf("unknown command %q: want get, set, or list", command)
	}
}

func get(store *property.Store, key string) error {
	value, err := store.Get(key)
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("%s: not set", key)
	}
	fmt.Println(formatValue(value))
	return nil
}

func list(store *property.Store, patterns []string) error {
	entries, err := store.GetSorted(patterns...)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%s=%s\n", entry.Key, formatValue(entry.Value))
	}
	return nil
}

// parseValue converts a command-line string to the typed value the
// store records. Types are explicit rather than guessed so "set
// serial-number 0123" stores the string an operator typed.
func parseValue(raw, valueType string) (any, error) {
	switch valueType {
	case "string":
		return raw, nil
	case "int":
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as int: %w", raw, err)
		}
		return value, nil
	case "float":
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as float: %w", raw, err)
		}
		return value, nil
	case "bool":
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as bool: %w", raw, err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unknown --type %q: want string, int, float, or bool", valueType)
	}
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Println(`targetd-property - inspect and edit a target's property store

Usage:
  targetd-property --state-dir DIR get KEY
  targetd-property --state-dir DIR set KEY [VALUE] [--type TYPE]
  targetd-property --state-dir DIR list [PATTERN...]

Setting a key without a value deletes it and every subkey under it.
Patterns are path.Match globs over full key names.

Flags:`)
	fmt.Print(flagSet.FlagUsages())
}
