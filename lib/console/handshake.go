// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/targetd-foundation/targetd/lib/clock"
)

// Step is one send/expect exchange of a console handshake. Exactly one
// of Wait or Send/Expect is meaningful per step: a Wait step just
// pauses (some management controllers drop input sent too early), a
// command step writes Send to the console input and then waits until
// one of the Expect patterns shows up in the capture stream. Send may
// be empty to only expect, and Expect may be empty to only send.
type Step struct {
	Wait    time.Duration
	Comment string
	Send    string
	Expect  []*regexp.Regexp
}

// WaitStep returns a step that pauses for d before the next exchange.
func WaitStep(d time.Duration, comment string) Step {
	return Step{Wait: d, Comment: comment}
}

// SendExpect returns a step that writes send and waits for any of the
// patterns.
func SendExpect(send string, patterns ...*regexp.Regexp) Step {
	return Step{Send: send, Expect: patterns}
}

// CommandSequence is the handshake automaton some backends run during
// Enable to coax a bridge (SSH KVM, serial concentrator, BMC) into
// raw pass-through mode.
type CommandSequence struct {
	Steps []Step

	// StepTimeout bounds one wait for an expected response. Zero means
	// 5 seconds.
	StepTimeout time.Duration

	// Tries is how many consecutive StepTimeout windows a step gets
	// before the handshake fails. Zero means 3.
	Tries int
}

const (
	defaultStepTimeout = 5 * time.Second
	defaultStepTries   = 3

	// handshakePollInterval paces the capture-file polling loop while
	// waiting for an expected response.
	handshakePollInterval = 100 * time.Millisecond
)

// Run executes the sequence: Send bytes go to input, Expect patterns
// are matched against whatever accumulates in the capture file at
// outputPath. On success the capture file is truncated so handshake
// chatter is not served to clients as console output. On timeout it
// returns an error wrapping [ErrHandshakeTimeout]; the caller is
// responsible for disabling the console.
func (seq *CommandSequence) Run(ctx context.Context, clk clock.Clock, log *slog.Logger, input io.Writer, outputPath string) error {
	stepTimeout := seq.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	tries := seq.Tries
	if tries <= 0 {
		tries = defaultStepTries
	}

	output, err := os.Open(outputPath)
	if err != nil {
		return fmt.Errorf("opening capture stream: %w", err)
	}
	defer output.Close()

	// Bytes read since the last successful match. Patterns match
	// against the whole window so a response split across polls is
	// still seen.
	var window []byte

	for i, step := range seq.Steps {
		if step.Wait > 0 {
			log.Info("handshake pause",
				"step", i, "wait", step.Wait, "comment", step.Comment)
			clk.Sleep(step.Wait)
			continue
		}
		if step.Send != "" {
			log.Info("handshake send",
				"step", i, "command", fmt.Sprintf("%q", step.Send))
			if _, err := io.WriteString(input, step.Send); err != nil {
				return fmt.Errorf("handshake step %d: writing command: %w", i, err)
			}
		}
		if len(step.Expect) == 0 {
			continue
		}

		deadline := clk.Now().Add(time.Duration(tries) * stepTimeout)
		matched := false
		for !matched {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := io.ReadAll(output)
			if err != nil {
				return fmt.Errorf("handshake step %d: reading capture stream: %w", i, err)
			}
			window = append(window, chunk...)
			for _, pattern := range step.Expect {
				if loc := pattern.FindIndex(window); loc != nil {
					log.Debug("handshake match",
						"step", i, "pattern", pattern.String())
					window = window[loc[1]:]
					matched = true
					break
				}
			}
			if matched {
				break
			}
			if !clk.Now().Before(deadline) {
				log.Error("handshake timeout",
					"step", i, "patterns", patternStrings(step.Expect),
					"seen", fmt.Sprintf("%q", window))
				return fmt.Errorf("step %d waiting for %s: %w",
					i, patternStrings(step.Expect), ErrHandshakeTimeout)
			}
			clk.Sleep(handshakePollInterval)
		}
	}

	// The handshake chatter is bridge dialog, not target output; drop
	// it so clients start reading from clean raw traffic.
	if err := os.Truncate(outputPath, 0); err != nil {
		return fmt.Errorf("truncating handshake chatter: %w", err)
	}
	return nil
}

func patternStrings(patterns []*regexp.Regexp) string {
	s := ""
	for i, pattern := range patterns {
		if i > 0 {
			s += "|"
		}
		s += pattern.String()
	}
	return s
}
