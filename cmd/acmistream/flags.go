package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/c360/acmistream/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Host        string
	Port        int
	MaxIters    int64
	DryRun      bool
	ShowVersion bool
	ShowHelp    bool
	Validate    bool

	flags *pflag.FlagSet
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		getEnv("ACMISTREAM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: ACMISTREAM_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ACMISTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ACMISTREAM_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ACMISTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: ACMISTREAM_LOG_FORMAT)")
	fs.StringVar(&cfg.Host, "host", "", "Tacview server host, overrides tacview.host")
	fs.IntVar(&cfg.Port, "port", 0, "Tacview server port, overrides tacview.port")
	fs.Int64Var(&cfg.MaxIters, "max-iters", 0, "Stop after this many lines, 0 for no limit")
	fs.BoolVar(&cfg.DryRun, "dry-run",
		getEnvBool("ACMISTREAM_DRY_RUN", false),
		"Ingest into memory without persisting anything (env: ACMISTREAM_DRY_RUN)")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help information")

	fs.Usage = func() { printDetailedHelp(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.flags = fs
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.MaxIters < 0 {
		return fmt.Errorf("invalid max-iters: %d", cfg.MaxIters)
	}
	return nil
}

// applyOverrides copies explicitly set flags over the loaded configuration.
func (c *CLIConfig) applyOverrides(cfg *config.Config) {
	if c.changed("host") {
		cfg.Tacview.Host = c.Host
	}
	if c.changed("port") {
		cfg.Tacview.Port = c.Port
	}
	if c.changed("max-iters") {
		cfg.Ingest.MaxIterations = c.MaxIters
	}
	if c.DryRun {
		cfg.Ingest.DryRun = true
	}
}

func (c *CLIConfig) changed(name string) bool {
	return c.flags != nil && c.flags.Changed(name)
}

func printDetailedHelp(w io.Writer, fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - Tacview real-time telemetry ingestion

Usage: %s [options]

Options:
`, appName, appName)
	_, _ = fmt.Fprint(w, fs.FlagUsages())
	_, _ = fmt.Fprintf(w, `
Examples:
  # Ingest from a local Tacview server into the default SQLite file
  %[1]s --host=127.0.0.1 --port=42674

  # Profile against a live server without persisting
  %[1]s --dry-run --max-iters=100000 --log-format=text

  # Validate configuration only
  %[1]s --config=/etc/acmistream/config.yaml --validate

Every configuration value can also be set through ACMISTREAM_<SECTION>_<KEY>,
for example ACMISTREAM_STORAGE_DSN or ACMISTREAM_NATS_ENABLED.

Version: %[2]s
`, appName, Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
