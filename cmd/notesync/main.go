package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/notesync/internal/buildinfo"
	"github.com/dmitrijs2005/notesync/internal/client/cli"
	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/flagx"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagx.HasFlag(os.Args[1:], "migrate") {
		if err := remote.RunMigrations(ctx, cfg.RemoteDSN); err != nil {
			logger.Error(ctx, "migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info(ctx, "remote schema is up to date")
		return
	}

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to start", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "stopped with error", "error", err)
		os.Exit(1)
	}
}
