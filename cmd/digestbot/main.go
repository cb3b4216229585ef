package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/deusflow/digestbot/internal/app"
	"github.com/deusflow/digestbot/internal/config"
	"github.com/deusflow/digestbot/internal/logger"
)

type Options struct {
	Config string `short:"c" long:"config" env:"DIGEST_CONFIG" default:"config.yaml" description:"Path to the YAML config file"`
	Once   bool   `long:"once" description:"Send one digest now and exit"`
	DryRun bool   `long:"dry-run" description:"Print messages to stdout instead of sending them"`
	Debug  bool   `long:"debug" description:"Enable debug logging"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 2
	}

	log := logger.Init(opts.Debug)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Error("Failed to load configuration", "path", opts.Config, "error", err)
		return 1
	}
	if cfg.Debug && !opts.Debug {
		log = logger.Init(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, cfg, app.Options{
		Once:   opts.Once,
		DryRun: opts.DryRun,
		Out:    os.Stdout,
		Logger: log,
	})
	if err != nil {
		log.Error("Digest bot failed", "error", err)
		return 1
	}
	return 0
}
