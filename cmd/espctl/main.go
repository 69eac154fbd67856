// Package main implements espctl, a command line client for ESP servers
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/esp"
	"github.com/c360/espclient/metric"
)

// Build information, set with -ldflags
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "espctl"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %s panic: %v\n%s\n", appName, r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if cliCfg.ShowVersion {
		fmt.Fprintf(stdout, "%s version %s (build: %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(cliCfg.flags)
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	if cliCfg.MetricsAddr != "" {
		srv := metric.NewServer(cliCfg.MetricsAddr, "", registry)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
		logger.Info("Serving metrics", "address", srv.Address())
	}

	conn, err := esp.NewConnection(cfg.Connection,
		esp.WithConfig(cfg),
		esp.WithLogger(logger),
		esp.WithMetrics(registry.CoreMetrics()),
	)
	if err != nil {
		return err
	}

	e := &env{
		conn:     conn,
		cfg:      cfg,
		cli:      cliCfg,
		logger:   logger,
		registry: registry,
		out:      stdout,
	}
	return commands[cliCfg.Command].run(ctx, e, cliCfg.Args)
}

// loadConfig layers the config file, environment and command-line overrides
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if cliCfg.Host != "" {
		cfg.Connection.Host = cliCfg.Host
	}
	if cliCfg.Port != 0 {
		cfg.Connection.Port = cliCfg.Port
	}
	if cliCfg.Timeout > 0 {
		cfg.Connection.Timeout = cliCfg.Timeout
	}
	cfg.Logging.Level = cliCfg.LogLevel
	cfg.Logging.Format = cliCfg.LogFormat

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
