package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/espclient/bridge"
	"github.com/c360/espclient/config"
	"github.com/c360/espclient/health"
	"github.com/c360/espclient/natsclient"
)

const healthInterval = 5 * time.Second

func runBridge(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("bridge")
	healthAddr := fs.String("health-addr", getEnv("ESPCLIENT_HEALTH_ADDR", ":8080"),
		"Serve health on this address, empty to disable (env: ESPCLIENT_HEALTH_ADDR)")
	windows := fs.String("windows", "", "Comma-separated windows to forward in addition to the configured ones")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := bridgeConfig(e.cfg.Bridge, *windows, fs.Args())
	if len(cfg.Windows) == 0 && len(cfg.Inbound) == 0 {
		return fmt.Errorf("bridge: no windows or inbound subjects configured")
	}

	m := e.registry.CoreMetrics()
	monitor := health.NewMonitor()
	url, opts := natsclient.FromConfig(cfg.NATS)
	opts = append(opts,
		natsclient.WithLogger(e.logger),
		natsclient.WithMetrics(m),
		natsclient.WithCallbacks(natsclient.Callbacks{
			OnHealthChange: func(healthy bool) { reportNATS(monitor, healthy, "connection lost") },
		}),
	)
	nc, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return err
	}
	if err := connectNATS(ctx, nc); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = nc.Close(closeCtx)
	}()

	bopts := []bridge.Option{bridge.WithLogger(e.logger), bridge.WithMetrics(m)}
	if cfg.NATS.Stream != "" {
		if _, err := nc.EnsureStream(ctx, cfg.NATS.Stream, streamSubject(cfg.NATS.SubjectPrefix)); err != nil {
			return err
		}
		bopts = append(bopts, bridge.WithStreamCapture(nc))
	}

	switch {
	case cfg.Redis.Addr != "":
		snaps, err := bridge.NewRedisSnapshot(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		bopts = append(bopts, bridge.WithSnapshots(snaps))
	case cfg.NATS.Bucket != "":
		snaps, err := bridge.NewKVSnapshot(ctx, nc, cfg.NATS.Bucket, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		bopts = append(bopts, bridge.WithSnapshots(snaps))
	}

	b, err := bridge.New(e.conn, nc, cfg, bopts...)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return b.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			updateHealth(monitor, b, nc)
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	if *healthAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/health", monitor.Handler(appName))
		srv := &http.Server{Addr: *healthAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			e.logger.Info("Serving health", "address", *healthAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	forwarded, injected := b.Stats()
	e.logger.Info("Bridge finished", "forwarded", forwarded, "injected", injected)
	return err
}

// bridgeConfig adds windows named on the command line to the configured ones
func bridgeConfig(base config.BridgeConfig, list string, extra []string) config.BridgeConfig {
	cfg := base
	cfg.Windows = append([]string(nil), base.Windows...)
	for _, w := range strings.Split(list, ",") {
		if w = strings.TrimSpace(w); w != "" {
			cfg.Windows = append(cfg.Windows, w)
		}
	}
	cfg.Windows = append(cfg.Windows, extra...)
	return cfg
}

// streamSubject matches every subject the bridge forwards to
func streamSubject(prefix string) string {
	if prefix == "" {
		return ">"
	}
	return prefix + ".>"
}

func connectNATS(ctx context.Context, nc *natsclient.Client) error {
	if err := nc.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := nc.WaitForConnection(waitCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

type healthReporter interface {
	Health() health.Status
}

type natsStatus interface {
	IsHealthy() bool
	Status() natsclient.ConnectionStatus
}

func updateHealth(m *health.Monitor, b healthReporter, nc natsStatus) {
	m.Update("bridge", b.Health())
	reportNATS(m, nc.IsHealthy(), nc.Status().String())
}

func reportNATS(m *health.Monitor, healthy bool, state string) {
	if healthy {
		m.UpdateHealthy("nats", "Connected")
		return
	}
	m.UpdateUnhealthy("nats", "NATS "+state)
}
