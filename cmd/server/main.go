// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package main is the entry point for the Dovetail server.
//
// Dovetail catalogues the Dolby Vision and TrueHD Atmos capabilities of
// a Plex movie library, keeps capability collections in sync, and runs
// the tracker-to-qBittorrent upgrade pipeline with Telegram approvals.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings from defaults, YAML file, and
//     DOVETAIL_-prefixed environment variables (Koanf v2)
//  2. Database: DuckDB capability store, pending downloads, history
//  3. Clients: Plex, Radarr, qBittorrent, Telegram, tracker feed
//     (each behind its Enabled flag)
//  4. Pipeline: scanner, collection reconciler, report writer,
//     download coordinator, monitor loop
//  5. HTTP server: control-plane REST API plus Prometheus metrics
//
// Long-running services (monitor loop, Telegram poller, HTTP server)
// run under a suture supervisor tree and restart on failure.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// listener drains in-flight requests, the monitor finishes its current
// tick, and the database and seen-set close cleanly.
//
// # Example Usage
//
// Scan-only mode against a local Plex:
//
//	export DOVETAIL_PLEX_URL=http://localhost:32400
//	export DOVETAIL_PLEX_TOKEN=your-plex-token
//	./dovetail
//
// Full pipeline with approvals:
//
//	export DOVETAIL_PLEX_URL=http://plex:32400
//	export DOVETAIL_PLEX_TOKEN=your-plex-token
//	export DOVETAIL_TRACKER_ENABLED=true
//	export DOVETAIL_TRACKER_URL=https://tracker.example/feed
//	export DOVETAIL_TELEGRAM_ENABLED=true
//	export DOVETAIL_TELEGRAM_BOT_TOKEN=123:abc
//	export DOVETAIL_TELEGRAM_CHAT_ID=4242
//	export DOVETAIL_QBITTORRENT_ENABLED=true
//	export DOVETAIL_QBITTORRENT_URL=http://qbt:8080
//	./dovetail
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/dovetail/internal/api"
	"github.com/tomtom215/dovetail/internal/clients"
	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/downloads"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/monitor"
	"github.com/tomtom215/dovetail/internal/reports"
	"github.com/tomtom215/dovetail/internal/scanner"
	"github.com/tomtom215/dovetail/internal/supervisor"
	"github.com/tomtom215/dovetail/internal/telegram"
	"github.com/tomtom215/dovetail/internal/tracker"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("plex_url", cfg.Plex.URL).
		Str("library", cfg.Plex.LibraryName).
		Str("db_path", cfg.Database.Path).
		Bool("tracker_enabled", cfg.Tracker.Enabled).
		Bool("telegram_enabled", cfg.Telegram.Enabled).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Config supplies the policy only until the first control-plane edit.
	if err := db.SeedPolicy(ctx, cfg.Policy); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed upgrade policy")
	}

	// Plex side of the pipeline.
	plex := scanner.NewPlexClient(cfg.Plex)
	if err := plex.TestConnection(ctx); err != nil {
		logging.Warn().Err(err).Msg("Plex unreachable at startup (will retry on scan)")
	}

	scan := scanner.NewScanner(plex, db, cfg.Plex, nil)
	reconciler := scanner.NewReconciler(plex, db, cfg.Collections, cfg.Plex.LibraryName)
	reportWriter := reports.NewWriter(db, cfg.Reports)

	testers := map[string]api.ConnectionTester{
		"plex": plex,
	}

	// Download side: every client is optional.
	var radarr downloads.FolderResolver
	if cfg.Radarr.Enabled {
		rc := clients.NewRadarrClient(cfg.Radarr)
		radarr = rc
		testers["radarr"] = rc
	}

	var qbt downloads.TorrentDispatcher
	if cfg.QBittorrent.Enabled {
		qc := clients.NewQBittorrentClient(cfg.QBittorrent)
		qbt = qc
		testers["qbittorrent"] = qc
	}

	var notifier downloads.ApprovalNotifier
	var bot *telegram.BotClient
	if cfg.Telegram.Enabled {
		bot = telegram.NewBotClient(cfg.Telegram)
		if err := bot.TestConnection(ctx); err != nil {
			logging.Warn().Err(err).Msg("Telegram unreachable at startup")
		}
		notifier = telegram.NewNotifier(bot)
		testers["telegram"] = bot
	}

	coordinator := downloads.NewCoordinator(db, radarr, qbt, notifier)

	var digest monitor.DigestNotifier
	if cfg.Telegram.Enabled && cfg.Telegram.ScanDigest {
		digest = telegram.NewNotifier(bot)
	}
	runner := monitor.NewScanRunner(scan, reconciler, reportWriter, digest)

	var source monitor.ReleaseSource
	var breaker api.BreakerStatus
	if cfg.Tracker.Enabled {
		seen, err := tracker.OpenSeenSet(cfg.Tracker.SeenDBPath, cfg.Tracker.SeenTTL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open tracker seen-set")
		}
		defer func() {
			if err := seen.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing seen-set")
			}
		}()

		poller := tracker.NewPoller(tracker.NewClient(cfg.Tracker), seen)
		source = poller
		breaker = poller
	}

	mon := monitor.New(runner, source, coordinator, cfg.Monitor, cfg.Tracker.PollInterval)

	router := api.NewRouter(db, runner, mon, reportWriter, breaker, testers, cfg.Server)
	httpServer := api.NewServer(router.Handler(), cfg.Server)

	// Supervisor tree: pipeline services restart independently of the
	// control plane.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddPipelineService(mon)
	if cfg.Telegram.Enabled {
		tree.AddPipelineService(telegram.NewPoller(bot, coordinator, cfg.Telegram))
	}
	tree.AddAPIService(httpServer)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Starting Dovetail")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services did not stop cleanly")
	}
	logging.Info().Msg("Dovetail stopped")
}
