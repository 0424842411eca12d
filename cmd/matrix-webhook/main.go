// Copyright 2024-2026 Aiku AI

// Command matrix-webhook is a webhook-to-Matrix relay bot. It logs in to a
// homeserver, listens for webhook calls on an HTTP endpoint, and forwards
// each payload into the configured room — as a formatted text message
// always, and as an uploaded image when the payload references one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/matrix-webhook/pkg/config"
	"github.com/aiku/matrix-webhook/pkg/matrix"
	"github.com/aiku/matrix-webhook/pkg/relay"
	"github.com/aiku/matrix-webhook/pkg/webhookd"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; the environment itself wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	exzerolog.SetupDefaults(&log)
	log.Info().
		Str("tag", Tag).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Msg("Starting matrix-webhook")

	registry, err := webhookd.LoadRegistry(cfg.HooksPath)
	if err != nil {
		return err
	}

	client, err := matrix.NewClient(cfg, registry.Rooms(), log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Login(ctx); err != nil {
		return err
	}

	renderer := relay.NewRenderer(relay.NewDirStore(cfg.TemplatePath), log)
	uploader := relay.NewMediaUploader(cfg.ProbeTimeout, cfg.FetchTimeout, log)
	dispatcher := relay.NewDispatcher(renderer, uploader, client, client, log)
	server := webhookd.New(cfg, registry, dispatcher, log)

	errCh := make(chan error, 2)
	go func() { errCh <- client.Run(ctx) }()
	go func() { errCh <- server.Run(ctx) }()

	select {
	case err := <-errCh:
		stop()
		return err
	case <-ctx.Done():
		// Drain whichever loop reports first during shutdown.
		return <-errCh
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.TimeFormat = "15:04:05"
	})
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
