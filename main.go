package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"enginesound/server/internal/config"
	"enginesound/server/internal/keyboard"
	"enginesound/server/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "enginesound:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var keys io.Reader
	if cfg.Keyboard {
		//1.- Raw mode delivers Ctrl-C as a key, which the keymap treats as quit.
		restore, err := keyboard.MakeRaw()
		if err != nil {
			logger.Warn("keyboard control unavailable", logging.Error(err))
		} else {
			defer restore()
			keys = os.Stdin
		}
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("engine sound service starting",
		logging.String("preset", cfg.Engine.Preset),
		logging.String("http_addr", cfg.HTTPAddr),
		logging.String("grpc_addr", cfg.GRPCAddr),
		logging.Bool("audio", cfg.Audio.Enabled),
	)
	return app.Run(ctx, keys)
}
