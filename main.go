// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-tool/internal/config"
	"github.com/ffutop/modbus-tool/internal/runner"
)

func main() {
	flags, err := config.ParseFlags(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	// Load Configuration
	cfg, err := config.LoadConfig("", flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	slog.Info("Starting Modbus Tool...", "role", cfg.Role, "mode", cfg.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx, cfg); err != nil {
		slog.Error("Stopped with error", "role", cfg.Role, "err", err)
		stop()
		closeLog()
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

// setupLogger installs the default logger. The returned function closes the
// log file, if any.
func setupLogger(cfg config.LogConfig) func() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		fmt.Printf("Unknown log level %q, using info\n", cfg.Level)
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.File == "" || cfg.File == "-" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
		return func() {}
	}
	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
		return func() {}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, opts)))
	return func() { f.Close() }
}
