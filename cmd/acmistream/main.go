// Package main implements the acmistream service, which ingests a Tacview
// real-time telemetry feed and persists sessions, objects, events and
// impacts.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/c360/acmistream/batch"
	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/health"
	"github.com/c360/acmistream/ingest"
	"github.com/c360/acmistream/input/tacview"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/storage"
)

const appName = "acmistream"

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if stderrors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp(stderr, cli.flags)
		return nil
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat, stdout)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}

	logger.Info("Starting acmistream",
		"config_path", cli.ConfigPath,
		"server", cfg.Tacview.Address(),
		"storage", cfg.Storage.Driver,
		"nats", cfg.NATS.Enabled,
		"dry_run", cfg.Ingest.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// loadConfig layers the file, the environment and the flags, then validates.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cli.applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serve wires the components and runs them until the pipeline stops or ctx
// is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	registry.CoreMetrics().RecordBuildInfo(Version)

	monitor := health.NewMonitor(appName)

	sink, err := openSink(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("Closing store failed", "error", err)
		}
	}()

	pipeline, source, err := buildPipeline(cfg, sink, registry, logger)
	if err != nil {
		return err
	}
	monitor.Register("ingest", func() health.Status {
		return health.FromError("", pipeline.Err())
	})
	monitor.Register("tacview", tacviewProbe(source))

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry, monitor.Healthy)
		if err := server.Listen(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("Metrics server listening", "addr", server.Address(), "path", cfg.Metrics.Path)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	g.Go(func() error {
		defer stopServe()
		return pipeline.Run(gctx)
	})
	if server != nil {
		g.Go(func() error {
			return server.Serve(serveCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("acmistream shutdown complete")
	return nil
}

func buildPipeline(
	cfg *config.Config,
	sink storage.Sink,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*ingest.Pipeline, *tacview.Client, error) {
	source, err := tacview.NewClient(cfg.Tacview, tacview.Deps{
		Logger:          logger.With("component", "tacview"),
		MetricsRegistry: registry,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create tacview client: %w", err)
	}
	writer, err := batch.NewWriter(cfg.Batch, sink, batch.Deps{
		Logger:          logger.With("component", "batch-writer"),
		MetricsRegistry: registry,
	})
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("create batch writer: %w", err)
	}
	pipeline, err := ingest.New(cfg, source, writer, ingest.Deps{
		Logger:          logger.With("component", "ingest"),
		MetricsRegistry: registry,
	})
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("create pipeline: %w", err)
	}
	return pipeline, source, nil
}

// tacviewProbe reports a client that is between connections as degraded;
// the pipeline reconnects on its own.
func tacviewProbe(c *tacview.Client) health.Probe {
	return func() health.Status {
		state := c.State()
		if state == tacview.StateStreaming {
			return health.NewHealthy("", state.String())
		}
		return health.NewDegraded("", state.String())
	}
}
