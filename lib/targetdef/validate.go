// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package targetdef

import (
	"fmt"
	"regexp"
	"time"
)

// namePattern matches valid target and console names: start with a
// letter or underscore, followed by letters, digits, underscores, or
// hyphens. The property store escapes anything else, but names this
// tame keep state directories and capture file names readable.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// consoleTypes are the recognized backend types.
var consoleTypes = map[string]bool{
	"file":    true,
	"logfile": true,
	"ssh":     true,
}

// Validate checks a Definition for structural issues. Returns a list
// of human-readable issue descriptions; an empty list means the
// definition is valid.
//
// Structural checks include:
//   - Target and console names must be valid identifiers and unique
//   - Console type must be file, logfile, or ssh
//   - Logfile consoles must have a path; ssh consoles an addr and user
//   - Aliases must not collide with console names
//   - DefaultConsole must name a declared console
//   - Durations must be parseable by time.ParseDuration
//   - Expect patterns must compile as regular expressions
//   - EscapeChars keys must be single characters
func Validate(definition *Definition) []string {
	var issues []string

	if len(definition.Targets) == 0 {
		issues = append(issues, "definition has no targets")
	}

	targetNames := make(map[string]int, len(definition.Targets))
	for index, target := range definition.Targets {
		prefix := fmt.Sprintf("targets[%d]", index)
		if target.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
		} else {
			prefix = fmt.Sprintf("%s %q", prefix, target.Name)
			if !namePattern.MatchString(target.Name) {
				issues = append(issues, fmt.Sprintf(
					"%s: name must match %s", prefix, namePattern.String()))
			}
			if firstIndex, exists := targetNames[target.Name]; exists {
				issues = append(issues, fmt.Sprintf(
					"%s: duplicate target name (first used at targets[%d])",
					prefix, firstIndex))
			} else {
				targetNames[target.Name] = index
			}
		}
		issues = append(issues, validateTarget(target, prefix)...)
	}
	return issues
}

func validateTarget(target TargetDef, prefix string) []string {
	var issues []string

	if len(target.Consoles) == 0 {
		issues = append(issues, fmt.Sprintf("%s: target has no consoles", prefix))
	}

	consoleNames := make(map[string]bool, len(target.Consoles))
	for index, console := range target.Consoles {
		consolePrefix := fmt.Sprintf("%s consoles[%d]", prefix, index)
		if console.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", consolePrefix))
		} else {
			consolePrefix = fmt.Sprintf("%s %q", consolePrefix, console.Name)
			if !namePattern.MatchString(console.Name) {
				issues = append(issues, fmt.Sprintf(
					"%s: name must match %s", consolePrefix, namePattern.String()))
			}
			if consoleNames[console.Name] {
				issues = append(issues, fmt.Sprintf(
					"%s: duplicate console name", consolePrefix))
			}
			consoleNames[console.Name] = true
		}
		issues = append(issues, validateConsole(console, consolePrefix)...)
	}

	// Aliases resolve after all consoles exist, so collisions and
	// dangling references are definition errors, not load failures.
	for _, console := range target.Consoles {
		for _, alias := range console.Aliases {
			if consoleNames[alias] {
				issues = append(issues, fmt.Sprintf(
					"%s console %q: alias %q collides with a console name",
					prefix, console.Name, alias))
			}
		}
	}

	if target.DefaultConsole != "" && !consoleNames[target.DefaultConsole] {
		issues = append(issues, fmt.Sprintf(
			"%s: default_console %q is not a declared console",
			prefix, target.DefaultConsole))
	}
	return issues
}

func validateConsole(console ConsoleDef, prefix string) []string {
	var issues []string

	if !consoleTypes[console.Type] {
		issues = append(issues, fmt.Sprintf(
			"%s: type must be one of file, logfile, ssh; got %q",
			prefix, console.Type))
	}

	switch console.Type {
	case "logfile":
		if console.Path == "" {
			issues = append(issues, fmt.Sprintf("%s: path is required", prefix))
		}
		if len(console.Handshake) > 0 {
			issues = append(issues, fmt.Sprintf(
				"%s: logfile consoles cannot have a handshake", prefix))
		}
	case "ssh":
		if console.Addr == "" {
			issues = append(issues, fmt.Sprintf("%s: addr is required", prefix))
		}
		if console.User == "" {
			issues = append(issues, fmt.Sprintf("%s: user is required", prefix))
		}
	}

	for field, value := range map[string]string{
		"interchunk_wait": console.InterchunkWait,
		"step_timeout":    console.StepTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %s: %v", prefix, field, err))
		}
	}

	for key := range console.EscapeChars {
		if len([]rune(key)) != 1 {
			issues = append(issues, fmt.Sprintf(
				"%s: escape_chars key %q must be a single character", prefix, key))
		}
	}

	for index, step := range console.Handshake {
		stepPrefix := fmt.Sprintf("%s handshake[%d]", prefix, index)
		if step.Wait != "" {
			if _, err := time.ParseDuration(step.Wait); err != nil {
				issues = append(issues, fmt.Sprintf("%s: wait: %v", stepPrefix, err))
			}
			if step.Send != "" || len(step.Expect) > 0 {
				issues = append(issues, fmt.Sprintf(
					"%s: a wait step cannot also send or expect", stepPrefix))
			}
			continue
		}
		if step.Send == "" && len(step.Expect) == 0 {
			issues = append(issues, fmt.Sprintf(
				"%s: step must wait, send, or expect", stepPrefix))
		}
		for _, pattern := range step.Expect {
			if _, err := regexp.Compile(pattern); err != nil {
				issues = append(issues, fmt.Sprintf("%s: expect: %v", stepPrefix, err))
			}
		}
	}
	return issues
}
