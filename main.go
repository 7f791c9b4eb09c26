// rigrun-relay - streaming relay between a chat UI and a local Ollama server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/cli"
	"github.com/jeranaias/rigrun-relay/internal/config"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
	"github.com/jeranaias/rigrun-relay/internal/relay"
	"github.com/jeranaias/rigrun-relay/internal/server"
	"github.com/jeranaias/rigrun-relay/internal/session"
	"github.com/jeranaias/rigrun-relay/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// pruneInterval is how often the ledger retention sweep runs.
const pruneInterval = 6 * time.Hour

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args, err := cli.Parse()
	if err != nil {
		cli.ReportError(cmd, args, err)
		if !args.JSON {
			fmt.Fprintln(os.Stderr)
			cli.PrintUsage()
		}
		os.Exit(2)
	}

	switch cmd {
	case cli.CmdServe:
		err = runServe(args)
	case cli.CmdStatus:
		err = cli.HandleStatus(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdVersion:
		err = cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp()
	}

	if err != nil {
		cli.ReportError(cmd, args, err)
		os.Exit(1)
	}
}

// runServe starts the relay and blocks until SIGINT/SIGTERM.
func runServe(args cli.Args) error {
	// .env files only fill variables that are not already set.
	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("ENV_FILE_ERROR | error=%v", err)
	}

	cfg, path, err := cli.LoadConfig(args)
	if err != nil {
		return err
	}
	if err := cli.ApplyFlags(cfg, args); err != nil {
		return err
	}

	logFile, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	store := config.NewStore(cfg, path).WithOverrides(func(c *config.Config) error {
		return cli.ApplyFlags(c, args)
	})

	var ledger *storage.Ledger
	if !cfg.Storage.Disabled {
		ledger, err = storage.Open(cfg.Storage.LedgerPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer ledger.Close()
		log.Printf("LEDGER_OPEN | path=%s", ledger.Path())
	}

	logger := log.Default()
	registry := cancel.NewRegistry()
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		Timeout:   cfg.RequestTimeout(),
		UserAgent: "rigrun-relay/" + Version,
	}).WithBaseURLFunc(store.BaseURL).WithCatalogURLFunc(store.CatalogURL)

	relayOpts := relay.Options{
		Registry:      registry,
		Upstream:      client,
		Logger:        logger,
		IdleTimeout:   cfg.IdleTimeout(),
		WarnThreshold: cfg.Relay.WarnThreshold,
	}
	if ledger != nil {
		relayOpts.Recorder = ledger
	}

	manager := session.NewManager(session.Config{
		Registry: registry,
		Chat:     relay.NewChatOrchestrator(relayOpts),
		Pull:     relay.NewPullOrchestrator(relayOpts),
		Logger:   logger,
	})

	srvOpts := server.Options{
		Store:   store,
		Client:  client,
		Manager: manager,
		Logger:  logger,
		Version: Version,
	}
	if ledger != nil {
		srvOpts.Ledger = ledger
	}
	srv, err := server.New(srvOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("RELAY_CONFIG | file=%q ollama=%s addr=%s auth=%t idle_timeout=%s",
		path, cfg.Local.OllamaURL, cfg.Addr(), cfg.Server.AuthToken != "", cfg.IdleTimeout())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// A missing config directory only disables hot reload.
		if err := store.Watch(gctx); err != nil {
			log.Printf("CONFIG_WATCH_DISABLED | error=%v", err)
		}
		return nil
	})

	if ledger != nil {
		g.Go(func() error {
			pruneLoop(gctx, ledger, store)
			return nil
		})
	}

	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Addr())
	})

	err = g.Wait()
	log.Printf("RELAY_STOPPED | active_operations=%d", registry.Len())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setupLogging mirrors the standard logger to the configured file.
func setupLogging(cfg *config.Config) (*os.File, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.Logging.File == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// pruneLoop deletes ledger records older than the configured retention,
// once at startup and then every pruneInterval.
func pruneLoop(ctx context.Context, ledger *storage.Ledger, store *config.Store) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		if retention := store.Current().Retention(); retention > 0 {
			n, err := ledger.Prune(ctx, time.Now().Add(-retention))
			switch {
			case err != nil && ctx.Err() == nil:
				log.Printf("LEDGER_PRUNE_FAILED | error=%v", err)
			case n > 0:
				log.Printf("LEDGER_PRUNED | removed=%d retention=%s", n, retention)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
