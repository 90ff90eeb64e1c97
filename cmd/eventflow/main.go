// Package main implements the eventflow daemon: it loads the pipeline
// configuration, builds the topology, and runs it until signalled.
// SIGTERM and SIGINT drain the pipeline and exit; SIGHUP reloads the
// configuration in place.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/health"
	"github.com/c360/eventflow/metric"
	"github.com/c360/eventflow/tap"
	"github.com/c360/eventflow/topology"

	// Concrete components register themselves with the default registry.
	_ "github.com/c360/eventflow/input/demo"
	_ "github.com/c360/eventflow/output/blackhole"
	_ "github.com/c360/eventflow/output/console"
	_ "github.com/c360/eventflow/output/natspub"
	_ "github.com/c360/eventflow/transform/aggregate"
	_ "github.com/c360/eventflow/transform/filter"
	_ "github.com/c360/eventflow/transform/remap"
)

// Build information constants.
const (
	Version = "0.1.0"
	appName = "eventflow"
)

// Process exit codes. exitConfig and exitPanic follow sysexits EX_CONFIG
// and EX_SOFTWARE.
const (
	exitOK        = 0
	exitRuntime   = 1
	exitUnhealthy = 2
	exitPanic     = 70
	exitConfig    = 78
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, buf[:n])
			os.Exit(exitPanic)
		}
	}()
	os.Exit(run())
}

func run() int {
	cliCfg := parseFlags()
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return exitOK
	}
	if err := validateFlags(cliCfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	if cliCfg.Threads > 0 {
		runtime.GOMAXPROCS(cliCfg.Threads)
	}

	cfg, err := config.Load(cliCfg.ConfigPaths...)
	if err != nil {
		logger.Error("configuration rejected", "error", err)
		return exitConfig
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "files", cliCfg.ConfigPaths.String())
		return exitOK
	}

	registry := metric.NewRegistry()
	topo, err := topology.New(cfg, topology.Options{
		Logger:          logger,
		Metrics:         registry,
		Registry:        component.DefaultRegistry,
		ShutdownTimeout: cliCfg.ShutdownTimeout,
		RequireHealthy:  cliCfg.RequireHealthy,
	})
	if err != nil {
		logger.Error("topology rejected", "error", err)
		return exitConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := health.NewMonitor(logger)
	if cliCfg.APIPort > 0 {
		tapCtrl := tap.NewController(topo, logger)
		api := metric.NewServer(cliCfg.APIPort, "/metrics", registry)
		api.Handle("/health", monitor.Handler())
		api.Handle("/tap", tap.NewServer(tapCtrl, logger).Handler())
		if err := api.Start(); err != nil {
			logger.Error("api server failed to start", "error", err)
			return exitRuntime
		}
		defer func() {
			if err := api.Stop(5 * time.Second); err != nil {
				logger.Warn("api server did not stop cleanly", "error", err)
			}
		}()
		go monitor.Run(ctx, 0)
	}

	if err := topo.Start(ctx); err != nil {
		logger.Error("pipeline failed to start", "error", err)
		if errors.IsUnhealthy(err) {
			return exitUnhealthy
		}
		return exitRuntime
	}
	monitor.UpdateHealthy("topology", "running")
	logger.Info("pipeline started",
		"sources", len(cfg.Sources),
		"transforms", len(cfg.Transforms),
		"sinks", len(cfg.Sinks))

	return waitForSignals(ctx, topo, monitor, cliCfg, logger)
}

// waitForSignals blocks until the process is told to stop, servicing
// SIGHUP reloads along the way.
func waitForSignals(ctx context.Context, topo *topology.Topology, monitor *health.Monitor,
	cliCfg *CLIConfig, logger *slog.Logger) int {

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			reload(ctx, topo, monitor, cliCfg, logger)
			continue
		}

		logger.Info("shutdown requested", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		err := topo.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			logger.Error("shutdown incomplete", "error", err)
			return exitRuntime
		}
		logger.Info("shutdown complete")
		return exitOK
	}
	return exitOK
}

// reload re-reads the configuration files and applies the difference. A
// rejected configuration leaves the running topology untouched.
func reload(ctx context.Context, topo *topology.Topology, monitor *health.Monitor,
	cliCfg *CLIConfig, logger *slog.Logger) {

	logger.Info("reload requested", "files", cliCfg.ConfigPaths.String())
	cfg, err := config.Load(cliCfg.ConfigPaths...)
	if err != nil {
		logger.Error("reload rejected, keeping current configuration", "error", err)
		monitor.UpdateUnhealthy("config", "last reload rejected: "+err.Error())
		return
	}
	if err := topo.Reload(ctx, cfg); err != nil {
		logger.Error("reload applied with errors", "error", err)
		monitor.UpdateUnhealthy("config", "partial reload: "+err.Error())
		return
	}
	monitor.UpdateHealthy("config", "reloaded")
	logger.Info("reload complete")
}
