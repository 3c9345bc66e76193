package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/health"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/natsclient"
	"github.com/c360/acmistream/output/natssink"
	"github.com/c360/acmistream/storage"
	"github.com/c360/acmistream/storage/memory"
	"github.com/c360/acmistream/storage/postgres"
	"github.com/c360/acmistream/storage/sqlite"
)

const natsConnectTimeout = 10 * time.Second

// openSink builds the durable store, fronted by the NATS mirror when egress
// is enabled. A dry run always gets the memory store and no mirror.
func openSink(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (storage.Sink, error) {
	if cfg.Ingest.DryRun {
		logger.Warn("Dry run: telemetry is kept in memory and not persisted")
		return memory.New(), nil
	}

	primary, err := openPrimary(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.NATS.Enabled {
		return primary, nil
	}

	mirror, client, err := openNATSMirror(ctx, cfg.NATS, registry, logger)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	monitor.Register("nats", natsProbe(client))
	return storage.NewFanout(primary, mirror), nil
}

func openPrimary(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Sink, error) {
	logger.Info("Opening store", "driver", cfg.Driver, "bulk", cfg.Bulk, "reset_schema", cfg.ResetSchema)
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg, logger.With("component", "postgres"))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg, logger.With("component", "sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, appName, "openPrimary", "storage driver "+cfg.Driver)
	}
}

func natsOptions(cfg config.NATSConfig, registry *metric.MetricsRegistry, logger *slog.Logger) []natsclient.ClientOption {
	core := registry.CoreMetrics()
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger.With("component", "natsclient")),
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithMetrics(registry),
		natsclient.WithDisconnectCallback(func(error) { core.RecordNATSStatus(false) }),
		natsclient.WithReconnectCallback(func() {
			core.RecordNATSStatus(true)
			core.RecordNATSReconnect()
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	return opts
}

func openNATSMirror(
	ctx context.Context,
	cfg config.NATSConfig,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natssink.Sink, *natsclient.Client, error) {
	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), natsOptions(cfg, registry, logger)...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.URLs)
	connCtx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	registry.CoreMetrics().RecordNATSStatus(true)

	sink, err := natssink.Open(connCtx, client, cfg, natssink.Deps{
		Logger:          logger.With("component", "natssink"),
		MetricsRegistry: registry,
	})
	if err != nil {
		_ = client.Close(context.Background())
		return nil, nil, fmt.Errorf("open NATS egress: %w", err)
	}
	return sink, client, nil
}

func natsProbe(c *natsclient.Client) health.Probe {
	return func() health.Status {
		switch status := c.Status(); status {
		case natsclient.StatusConnected:
			return health.NewHealthy("", status.String())
		case natsclient.StatusDisconnected:
			return health.NewUnhealthy("", status.String())
		default:
			return health.NewDegraded("", status.String())
		}
	}
}
