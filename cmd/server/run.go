package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dhruvsoni1802/browser-gateway/internal/api"
	"github.com/dhruvsoni1802/browser-gateway/internal/browser"
	"github.com/dhruvsoni1802/browser-gateway/internal/chromedpengine"
	"github.com/dhruvsoni1802/browser-gateway/internal/config"
	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
	"github.com/dhruvsoni1802/browser-gateway/internal/gateway"
	"github.com/dhruvsoni1802/browser-gateway/internal/metrics"
	"github.com/dhruvsoni1802/browser-gateway/internal/session"
	"github.com/dhruvsoni1802/browser-gateway/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func newLauncher(cfg *config.Config, logger *slog.Logger) engine.Launcher {
	if cfg.Browser.Driver == config.DriverChromedp {
		return chromedpengine.NewLauncher(chromedpengine.Options{
			ExecPath: cfg.Browser.ChromiumPath,
			Logger:   logger,
		})
	}
	return browser.NewLauncher(browser.LauncherOptions{
		BinaryPath:     cfg.Browser.ChromiumPath,
		Ports:          browser.NewPortPool(browser.MinPortRange, browser.MaxPortRange),
		StartupTimeout: cfg.Browser.StartupTimeout,
		Logger:         logger,
	})
}

// run wires every component and blocks until a signal or a server failure
func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("browser gateway starting",
		"version", Version,
		"server_port", cfg.Server.Port,
		"mcp_port", cfg.MCP.Port,
		"driver", cfg.Browser.Driver,
		"chromium", cfg.Browser.ChromiumPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)
	metrics.SetBuildInfo(Version)

	// Redis mirrors sessions and messages when configured
	var observer session.Observer
	var sink gateway.MessageSink
	var redisPinger api.Pinger
	if cfg.Redis.Addr != "" {
		redisClient, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		redisPinger = redisClient

		observer = storage.NewSessionRepository(redisClient, storage.DefaultSessionTTL, logger)
		sink = storage.NewMessageSink(redisClient, cfg.Redis.Channel, cfg.Redis.HistoryLimit)
		logger.Info("redis mirror enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	sessions := session.NewManager(newLauncher(cfg, logger), session.Options{
		MaxBrowsers:  cfg.Browser.MaxBrowsers,
		StartTimeout: cfg.Browser.StartupTimeout,
		Observer:     observer,
		Logger:       logger,
	})
	defer sessions.Close()

	gw := gateway.NewManager(gateway.Options{
		Config: gateway.ServerConfig{
			Port:         cfg.MCP.Port,
			Capabilities: cfg.MCP.Capabilities,
		},
		Host:             cfg.MCP.Host,
		HandshakeTimeout: cfg.MCP.HandshakeTimeout,
		Info:             mcp.Implementation{Name: "browser-gateway", Version: Version},
		History:          gateway.NewHistory(cfg.MCP.HistoryLimit, sink, logger),
		Logger:           logger,
	})
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("failed to close gateway", "error", err)
		}
	}()

	if cfg.MCP.Autostart {
		if err := gw.StartListening(); err != nil {
			return fmt.Errorf("failed to start MCP listener: %w", err)
		}
	}

	server := api.NewServer(cfg.Server.Port, api.Deps{
		Sessions: sessions,
		Executor: session.NewExecutor(sessions, cfg.Browser.ActionTimeout),
		Gateway:  gw,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Redis:    redisPinger,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("service ready", "status", "awaiting shutdown signal")

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
