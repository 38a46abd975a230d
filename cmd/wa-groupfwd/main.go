// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command wa-groupfwd relays the messages of one WhatsApp chat to a list of
// other chats and serves a small status page with the pairing QR code, the
// message log and a restart action.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/wa-groupfwd/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, envFile string
	var generateConfig, showVersion bool

	flagSet := pflag.NewFlagSet("wa-groupfwd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	flagSet.BoolVarP(&generateConfig, "generate-config", "e", false, "write the example config to --config and exit")
	flagSet.StringVar(&envFile, "env-file", ".env", "environment file to load if it exists")
	flagSet.BoolVarP(&showVersion, "version", "v", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("wa-groupfwd %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if generateConfig {
		if err := connector.WriteExampleConfig(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote example config to %s\n", configPath)
		return nil
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := connector.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Msg("Initializing wa-groupfwd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := connector.NewDeviceContainer(ctx, cfg.Database, *log)
	if err != nil {
		return err
	}
	rc := connector.NewRelayConnector(*cfg, *log, connector.NewWhatsAppClientFactory(container, *log))
	if err = rc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = rc.Stop(shutdownCtx); err != nil {
		return err
	}
	if err = container.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close device store")
	}
	return nil
}
