// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConsoleConfig describes the SSH endpoint an [SSHConsole] bridges
// to: typically a management controller or a serial concentrator that
// exposes a target's console as a login shell.
type SSHConsoleConfig struct {
	// Addr is the host:port to dial.
	Addr string

	// User authenticates the session.
	User string

	// Password, when non-empty, enables password authentication.
	Password string

	// PrivateKeyPEM, when non-empty, enables public key
	// authentication.
	PrivateKeyPEM []byte

	// Command runs instead of the remote login shell when non-empty
	// (for concentrators that need e.g. "connect port3").
	Command string

	// DialTimeout bounds the TCP connect. Zero means 10 seconds.
	DialTimeout time.Duration

	// Sequence, when set, is the handshake run over the fresh session
	// before the console is declared up.
	Sequence *CommandSequence
}

// SSHConsole bridges a console over an SSH session. Enable dials and
// starts the session, pumping remote output into the capture stream;
// Write feeds the session's stdin. Unlike [FileConsole] the live state
// is in-process: a dropped TCP connection shows up as State()==false
// while the persisted flag still says enabled, which is what lets the
// registry's self-healing reconnect it.
type SSHConsole struct {
	target *Target
	name   string
	config SSHConsoleConfig

	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	alive   bool
}

// NewSSHConsole returns an SSH-bridged console named name on target.
func NewSSHConsole(target *Target, name string, config SSHConsoleConfig) *SSHConsole {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	return &SSHConsole{target: target, name: name, config: config}
}

func (c *SSHConsole) readPath() string {
	return filepath.Join(c.target.StateDir, "console-"+c.name+".read")
}

func (c *SSHConsole) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if len(c.config.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(c.config.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.config.Password != "" {
		auth = append(auth, ssh.Password(c.config.Password))
	}
	return &ssh.ClientConfig{
		User: c.config.User,
		Auth: auth,
		// Management controllers live on the broker's closed lab
		// network and regenerate host keys on factory reset, so host
		// key pinning buys nothing here but stuck targets.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.DialTimeout,
	}, nil
}

// Enable dials the endpoint, starts the session with its output
// pumped into a fresh capture stream, runs the handshake if one is
// configured, then records ENABLED and bumps the generation. Any
// failure tears the session down and leaves the console DISABLED.
func (c *SSHConsole) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alive {
		return nil
	}

	clientConfig, err := c.clientConfig()
	if err != nil {
		return err
	}
	client, err := ssh.Dial("tcp", c.config.Addr, clientConfig)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.config.Addr, err)
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("starting session: %w", err)
	}

	// Each enable is a new capture session; truncating makes the
	// shrink visible to noteSize on top of the explicit bump below.
	capture, err := os.OpenFile(c.readPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("creating capture stream: %w", err)
	}
	session.Stdout = capture
	session.Stderr = capture
	stdin, err := session.StdinPipe()
	if err != nil {
		capture.Close()
		session.Close()
		client.Close()
		return fmt.Errorf("opening session stdin: %w", err)
	}

	if c.config.Command != "" {
		err = session.Start(c.config.Command)
	} else {
		err = session.Shell()
	}
	if err != nil {
		capture.Close()
		session.Close()
		client.Close()
		return fmt.Errorf("starting remote console: %w", err)
	}

	c.client = client
	c.session = session
	c.stdin = stdin
	c.alive = true
	go func() {
		err := session.Wait()
		capture.Close()
		c.mu.Lock()
		c.alive = false
		c.mu.Unlock()
		c.target.Log.Info("ssh console session ended",
			"console", c.name, "error", err)
	}()

	if c.config.Sequence != nil {
		err := c.config.Sequence.Run(ctx, c.target.Clock,
			c.target.Log.With("console", c.name), stdin, c.readPath())
		if err != nil {
			c.target.Log.Info("disabling console, enable handshake failed",
				"console", c.name, "error", err)
			c.teardownLocked()
			if derr := c.target.setShallBeEnabled(c.name, false); derr != nil {
				c.target.Log.Warn("recording disabled state",
					"console", c.name, "error", derr)
			}
			return fmt.Errorf("enabling console %s: %w", c.name, err)
		}
	}

	if err := c.target.setShallBeEnabled(c.name, true); err != nil {
		c.teardownLocked()
		return err
	}
	c.target.bumpGeneration(c.name)
	return nil
}

// teardownLocked closes the session and connection. Callers hold mu.
func (c *SSHConsole) teardownLocked() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.stdin = nil
	c.alive = false
}

// Disable closes the session and records DISABLED. The capture stream
// is kept for reading.
func (c *SSHConsole) Disable() error {
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
	return c.target.setShallBeEnabled(c.name, false)
}

// State reports whether the SSH session is still up.
func (c *SSHConsole) State() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive, nil
}

// Setup accepts connection overrides before the next Enable.
func (c *SSHConsole) Setup(parameters map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range parameters {
		switch key {
		case "addr":
			c.config.Addr = value
		case "user":
			c.config.User = value
		case "password":
			c.config.Password = value
		case "command":
			c.config.Command = value
		default:
			return fmt.Errorf("ssh console %s: unknown parameter %q", c.name, key)
		}
	}
	return nil
}

func (c *SSHConsole) Read(offset int64) (StreamDescriptor, error) {
	if info, err := os.Stat(c.readPath()); err == nil {
		c.target.noteSize(c.name, info.Size())
	}
	return StreamDescriptor{
		File:       c.readPath(),
		Generation: c.target.generation(c.name),
		Offset:     offset,
	}, nil
}

func (c *SSHConsole) Size() (int64, bool, error) {
	live, err := c.State()
	if err != nil || !live {
		return 0, false, err
	}
	info, err := os.Stat(c.readPath())
	if err != nil {
		return 0, true, nil
	}
	c.target.noteSize(c.name, info.Size())
	return info.Size(), true, nil
}

// Write feeds data to the remote side's stdin.
func (c *SSHConsole) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || c.stdin == nil {
		return fmt.Errorf("console %s: %w", c.name, ErrDisabled)
	}
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("writing to ssh console %s: %w", c.name, err)
	}
	return nil
}
