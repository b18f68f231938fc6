// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/gps_i2c/internal/app"
	"github.com/relabs-tech/gps_i2c/internal/config"
	"github.com/relabs-tech/gps_i2c/internal/logging"
)

// shutdownGrace bounds how long a blocked read may delay exit after a signal.
const shutdownGrace = time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Optional TOML or YAML config file.")
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error). Overrides config and LOG_LEVEL.")
	flag.Parse()

	cfg, err := loadConfig(configPath, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gps_i2c: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("gps_i2c", cfg.LogLevel, os.Stderr)
	logger.Info().Msg("starting GPS reader (NMEA over I2C)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCode := make(chan int, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("stopping")
		sigCode <- exitCodeFor(sig)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- app.RunGPSReader(ctx, cfg, logger, os.Stdout)
	}()

	err = waitForReader(ctx, done, shutdownGrace)
	code := 0
	if errors.Is(err, context.Canceled) {
		code = <-sigCode
	}
	code = exitStatus(err, code)
	if code == 1 {
		logger.Error().Err(err).Msg("fatal")
	}
	os.Exit(code)
}

// exitCodeFor maps a signal to the shell convention 128+signo.
func exitCodeFor(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 130
}

// waitForReader returns the reader's result. Once ctx is cancelled the
// reader may be parked in a blocking read, so it gets grace to return
// before ctx's error is reported instead.
func waitForReader(ctx context.Context, done <-chan error, grace time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		return ctx.Err()
	}
}

// exitStatus picks the process exit code: the signal's code when the reader
// stopped because of cancellation, 1 for any other error.
func exitStatus(err error, sigCode int) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled) && sigCode != 0:
		return sigCode
	default:
		return 1
	}
}

// loadConfig layers defaults, the optional file, the environment and flags.
func loadConfig(path, logLevel string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		if err := cfg.ReadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
