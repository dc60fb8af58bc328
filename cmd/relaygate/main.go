package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"

	"relaygate/internal/admin"
	"relaygate/internal/backend"
	"relaygate/internal/balancer"
	"relaygate/internal/cache"
	"relaygate/internal/clock"
	"relaygate/internal/config"
	"relaygate/internal/forwarder"
	"relaygate/internal/health"
	"relaygate/internal/listener"
	"relaygate/internal/logging"
	"relaygate/internal/metrics"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "relaygate.yaml", "path to configuration file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("relaygate %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to set GOMAXPROCS: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("relaygate starting", map[string]interface{}{
		"version":  version,
		"backends": len(cfg.Backends),
	})

	registry, err := backend.NewRegistry(cfg.Backends)
	if err != nil {
		logger.Error("invalid backend configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	clk := clock.New()
	metricsCollector := metrics.New()

	monitor := health.New(registry, health.Config{
		ProbeInterval: time.Duration(cfg.ProbeIntervalSeconds) * time.Second,
		MaxFailures:   cfg.MaxFailures,
	}, clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Run(ctx)

	bal := balancer.New(registry)
	respCache := cache.New(cfg.CacheCapacity, time.Duration(cfg.CacheTTLSeconds)*time.Second, clk)

	fwd := forwarder.New(forwarder.Config{
		APIKey:         cfg.APIKey,
		MaxRetries:     cfg.MaxRetries,
		MaxRequestBody: cfg.MaxRequestBodyBytes,
	}, bal, respCache, clk, logger, metricsCollector)

	tlsConfig, err := listener.LoadTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		logger.Error("failed to load TLS certificate", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	httpListener := listener.NewHTTPListener(listener.HTTPListenerConfig{
		Addr:      fmt.Sprintf(":%d", cfg.ListenPort),
		TLSConfig: tlsConfig,
		Handler:   fwd,
	})

	if err := httpListener.Start(ctx); err != nil {
		logger.Error("failed to start listener", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("listening", map[string]interface{}{"addr": httpListener.Addr()})

	var adminAPI *admin.API
	if cfg.AdminAddr != "" {
		adminAPI = admin.New(admin.Config{
			Addr:     cfg.AdminAddr,
			Metrics:  metricsCollector,
			Registry: registry,
			Version:  version,
			AuthToken: cfg.APIKey,
		})
		if err := adminAPI.Start(); err != nil {
			logger.Error("failed to start admin API", map[string]interface{}{"error": err.Error()})
		} else {
			logger.Info("admin API listening", map[string]interface{}{"addr": cfg.AdminAddr})
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down", nil)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSecond)*time.Second)
	defer shutdownCancel()

	if err := httpListener.Stop(shutdownCtx); err != nil {
		logger.Warn("listener shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if adminAPI != nil {
		if err := adminAPI.Stop(shutdownCtx); err != nil {
			logger.Warn("admin API shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}
	monitor.Stop()

	logger.Info("shutdown complete", nil)
}
