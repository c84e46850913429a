// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

// targetd-cache-gc trims the shared artifact digest cache to a maximum
// entry count, evicting the least recently used entries. It takes the
// same lockfile the daemon takes, so it is safe to run from cron while
// the broker is serving.
//
// The cache directory and entry budget come from the targetd config
// file (--config or TARGETD_CONFIG), with --cache-dir and
// --max-entries as direct overrides for one-off runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/targetd-foundation/targetd/lib/clock"
	"github.com/targetd-foundation/targetd/lib/config"
	"github.com/targetd-foundation/targetd/lib/diskcache"
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
	var configPath string
	var cacheDir string
	var maxEntries int
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("targetd-cache-gc", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "targetd config file (default: $TARGETD_CONFIG)")
	flagSet.StringVar(&cacheDir, "cache-dir", "", "cache directory (overrides config)")
	flagSet.IntVar(&maxEntries, "max-entries", -1, "entry budget (overrides config)")
	flagSet.DurationVar(&timeout, "timeout", time.Minute, "overall deadline, lock wait included")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("targetd-cache-gc %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Println("targetd-cache-gc - trim the shared digest cache to its entry budget")
		fmt.Print(flagSet.FlagUsages())
		return nil
	}

	// Flags override config; config is only required for what the
	// flags leave unset.
	if cacheDir == "" || maxEntries < 0 {
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cacheDir == "" {
			cacheDir = cfg.Paths.Cache
		}
		if maxEntries < 0 {
			maxEntries = cfg.Cache.MaxEntries
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := property.Open(cacheDir)
	if err != nil {
		return err
	}
	cache := diskcache.New(store, clock.Real(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	before, err := store.Keys("")
	if err != nil {
		return err
	}
	err = cache.WithLock(ctx, func(locked *diskcache.Locked) error {
		return locked.LRUCleanup(maxEntries)
	})
	if err != nil {
		return err
	}
	after, err := store.Keys("")
	if err != nil {
		return err
	}

	logger.Info("cache trimmed",
		"dir", cacheDir,
		"budget", maxEntries,
		"before", len(before),
		"evicted", len(before)-len(after))
	return nil
}
