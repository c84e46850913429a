// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production lab racks.
	Staging Environment = "staging"
	// Production is for production broker deployments.
	Production Environment = "production"
)

// Config is the master configuration for targetd.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Cache configures the shared artifact digest cache.
	Cache CacheConfig `yaml:"cache"`

	// Console configures console capture defaults.
	Console ConsoleConfig `yaml:"console"`

	// EnvironmentOverrides contains per-environment overrides, applied
	// after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Cache   *CacheConfig   `yaml:"cache,omitempty"`
	Console *ConsoleConfig `yaml:"console,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for targetd data.
	Root string `yaml:"root"`

	// State is where per-target state directories live. Each target
	// gets State/<target-name>/ holding its property store and console
	// capture files.
	State string `yaml:"state"`

	// Cache is the shared digest cache directory. Multiple daemon
	// processes may point at the same directory; access is serialized
	// through the cache's lockfile.
	Cache string `yaml:"cache"`

	// Targets is the path to the target definition file (JSONC).
	Targets string `yaml:"targets"`
}

// CacheConfig configures the shared artifact digest cache.
type CacheConfig struct {
	// MaxEntries bounds the cache population; the least recently used
	// entries beyond it are evicted before each insert.
	// Default: 1024
	MaxEntries int `yaml:"max_entries"`

	// Digest names the hash used for artifact identification.
	// One of: sha256, sha512, blake3. Default: sha256
	Digest string `yaml:"digest"`

	// LockTimeout is how long a cache operation waits for the
	// lockfile before giving up. Default: 20s
	LockTimeout string `yaml:"lock_timeout"`
}

// ConsoleConfig configures console capture defaults.
type ConsoleConfig struct {
	// StepTimeout bounds each wait in an enable handshake.
	// Default: 5s
	StepTimeout string `yaml:"step_timeout"`

	// StepTries is how many timeout windows a handshake step gets.
	// Default: 3
	StepTries int `yaml:"step_tries"`

	// InterchunkWait is the pause between write chunks on consoles
	// with chunked input. Default: 200ms
	InterchunkWait string `yaml:"interchunk_wait"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; they exist primarily to
// ensure all fields have sensible zero-values, not as a fallback —
// the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "targetd")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:    defaultRoot,
			State:   filepath.Join(defaultRoot, "state"),
			Cache:   filepath.Join(defaultRoot, "cache"),
			Targets: filepath.Join(defaultRoot, "targets.jsonc"),
		},
		Cache: CacheConfig{
			MaxEntries:  1024,
			Digest:      "sha256",
			LockTimeout: "20s",
		},
		Console: ConsoleConfig{
			StepTimeout:    "5s",
			StepTries:      3,
			InterchunkWait: "200ms",
		},
	}
}

// Load loads configuration from the TARGETD_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults — if TARGETD_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration.
func Load() (*Config, error) {
	configPath := os.Getenv("TARGETD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TARGETD_CONFIG environment variable not set; " +
			"set it to the path of your targetd.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.Cache != "" {
			c.Paths.Cache = overrides.Paths.Cache
		}
		if overrides.Paths.Targets != "" {
			c.Paths.Targets = overrides.Paths.Targets
		}
	}

	if overrides.Cache != nil {
		if overrides.Cache.MaxEntries != 0 {
			c.Cache.MaxEntries = overrides.Cache.MaxEntries
		}
		if overrides.Cache.Digest != "" {
			c.Cache.Digest = overrides.Cache.Digest
		}
		if overrides.Cache.LockTimeout != "" {
			c.Cache.LockTimeout = overrides.Cache.LockTimeout
		}
	}

	if overrides.Console != nil {
		if overrides.Console.StepTimeout != "" {
			c.Console.StepTimeout = overrides.Console.StepTimeout
		}
		if overrides.Console.StepTries != 0 {
			c.Console.StepTries = overrides.Console.StepTries
		}
		if overrides.Console.InterchunkWait != "" {
			c.Console.InterchunkWait = overrides.Console.InterchunkWait
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TARGETD_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TARGETD_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Cache = expandVars(c.Paths.Cache, vars)
	c.Paths.Targets = expandVars(c.Paths.Targets, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be >= 0"))
	}

	digests := []string{"sha256", "sha512", "blake3"}
	if !contains(digests, c.Cache.Digest) {
		errs = append(errs, fmt.Errorf("cache.digest must be one of: %v", digests))
	}

	for field, value := range map[string]string{
		"cache.lock_timeout":      c.Cache.LockTimeout,
		"console.step_timeout":    c.Console.StepTimeout,
		"console.interchunk_wait": c.Console.InterchunkWait,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.State, c.Paths.Cache} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
