package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/acmistream/acmi"
	"github.com/c360/acmistream/errors"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Batch failure policies
const (
	PolicyRetry = "retry"
	PolicyAbort = "abort"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "ACMISTREAM"

// Config is the complete service configuration. It is built once at startup
// and treated as immutable afterwards.
type Config struct {
	Tacview     TacviewConfig     `json:"tacview" yaml:"tacview"`
	Decoder     DecoderConfig     `json:"decoder" yaml:"decoder"`
	Attribution AttributionConfig `json:"attribution" yaml:"attribution"`
	Batch       BatchConfig       `json:"batch" yaml:"batch"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	NATS        NATSConfig        `json:"nats" yaml:"nats"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
}

// TacviewConfig describes the real-time telemetry server to connect to.
type TacviewConfig struct {
	Host           string        `json:"host" yaml:"host"`
	Port           int           `json:"port" yaml:"port"`
	Client         string        `json:"client" yaml:"client"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty"`
	DialTimeout    time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	CapturePath    string        `json:"capture_path,omitempty" yaml:"capture_path,omitempty"`
}

// Address returns host:port.
func (t TacviewConfig) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// DecoderConfig controls wire decoding.
type DecoderConfig struct {
	TupleOrder []string `json:"tuple_order" yaml:"tuple_order"`
}

// AttributionConfig bounds the parent and impactor searches. Distances are in
// meters, box extents in degrees and altitude units.
type AttributionConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	BoxLatLon          float64       `json:"box_latlon" yaml:"box_latlon"`
	BoxAlt             float64       `json:"box_alt" yaml:"box_alt"`
	Lookback           time.Duration `json:"lookback" yaml:"lookback"`
	ParentMaxDist      float64       `json:"parent_max_dist" yaml:"parent_max_dist"`
	ImpactorMaxDist    float64       `json:"impactor_max_dist" yaml:"impactor_max_dist"`
	ParentTypes        []string      `json:"parent_types" yaml:"parent_types"`
	ImpactTypes        []string      `json:"impact_types" yaml:"impact_types"`
	TargetTypePrefixes []string      `json:"target_type_prefixes" yaml:"target_type_prefixes"`
}

// BatchConfig controls tick batching and the flush worker.
type BatchConfig struct {
	WriteEvents    bool          `json:"write_events" yaml:"write_events"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size"`
	FailurePolicy  string        `json:"failure_policy" yaml:"failure_policy"`
	FlushTimeout   time.Duration `json:"flush_timeout" yaml:"flush_timeout"`
	ShutdownGrace  time.Duration `json:"shutdown_grace" yaml:"shutdown_grace"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	DSN         string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Bulk        bool   `json:"bulk" yaml:"bulk"`
	ResetSchema bool   `json:"reset_schema" yaml:"reset_schema"`
	PoolSize    int    `json:"pool_size" yaml:"pool_size"`
}

// NATSConfig configures the optional JetStream egress.
type NATSConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	Stream        string        `json:"stream" yaml:"stream"`
	SubjectPrefix string        `json:"subject_prefix" yaml:"subject_prefix"`
	KVBucket      string        `json:"kv_bucket" yaml:"kv_bucket"`
	Replicas      int           `json:"replicas,omitempty" yaml:"replicas,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// IngestConfig controls the ingestion loop.
type IngestConfig struct {
	MaxIterations  int64         `json:"max_iterations" yaml:"max_iterations"`
	StatsInterval  time.Duration `json:"stats_interval" yaml:"stats_interval"`
	DryRun         bool          `json:"dry_run" yaml:"dry_run"`
	ErrorLogPerSec float64       `json:"error_log_per_sec" yaml:"error_log_per_sec"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Tacview: TacviewConfig{
			Host:           "127.0.0.1",
			Port:           42674,
			Client:         "acmistream",
			DialTimeout:    5 * time.Second,
			ReadTimeout:    5 * time.Second,
			ReconnectDelay: 3 * time.Second,
		},
		Decoder: DecoderConfig{
			TupleOrder: append([]string(nil), acmi.DefaultTupleOrder...),
		},
		Attribution: AttributionConfig{
			Enabled:         true,
			BoxLatLon:       0.015,
			BoxAlt:          2000,
			Lookback:        2500 * time.Millisecond,
			ParentMaxDist:   100,
			ImpactorMaxDist: 100,
			ParentTypes: []string{
				"Weapon+Missile",
				"Projectile+Shell",
				"Misc+Decoy+Flare",
				"Misc+Decoy+Chaff",
				"Misc+Container",
				"Misc+Shrapnel",
				"Ground+Light+Human+Air+Parachutist",
			},
			ImpactTypes:        []string{"Weapon+Missile", "Projectile+Shell"},
			TargetTypePrefixes: []string{"Air+"},
		},
		Batch: BatchConfig{
			WriteEvents:    true,
			QueueSize:      64,
			FailurePolicy:  PolicyRetry,
			FlushTimeout:   30 * time.Second,
			ShutdownGrace:  30 * time.Second,
			RetryBaseDelay: 200 * time.Millisecond,
			RetryMaxDelay:  10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   DriverSQLite,
			DSN:      "acmistream.db",
			Bulk:     true,
			PoolSize: 4,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Stream:        "ACMI",
			SubjectPrefix: "acmi",
			KVBucket:      "ACMI_OBJECTS",
			Replicas:      1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Ingest: IngestConfig{
			StatsInterval:  time.Minute,
			ErrorLogPerSec: 1,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...))
	}

	if c.Tacview.Host == "" {
		fail("tacview.host is required")
	}
	if c.Tacview.Port <= 0 || c.Tacview.Port > 65535 {
		fail("tacview.port %d out of range", c.Tacview.Port)
	}
	if c.Tacview.Client == "" {
		fail("tacview.client is required")
	}
	if c.Tacview.ReadTimeout <= 0 {
		fail("tacview.read_timeout must be positive")
	}
	if c.Tacview.ReconnectDelay <= 0 {
		fail("tacview.reconnect_delay must be positive")
	}

	if _, err := acmi.ParseTupleOrder(c.Decoder.TupleOrder); err != nil {
		fail("decoder.tuple_order: %v", err)
	}

	a := c.Attribution
	if a.BoxLatLon < 0 || a.BoxAlt < 0 {
		fail("attribution box extents cannot be negative")
	}
	if a.Lookback < 0 {
		fail("attribution.lookback cannot be negative")
	}
	if a.ParentMaxDist <= 0 || a.ImpactorMaxDist <= 0 {
		fail("attribution distance thresholds must be positive")
	}

	if c.Batch.QueueSize <= 0 {
		fail("batch.queue_size must be positive")
	}
	switch c.Batch.FailurePolicy {
	case PolicyRetry, PolicyAbort:
	default:
		fail("batch.failure_policy %q must be %q or %q", c.Batch.FailurePolicy, PolicyRetry, PolicyAbort)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" && !c.Ingest.DryRun {
			fail("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		fail("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			fail("nats.urls is required when nats is enabled")
		}
		if !isValidSubjectPart(c.NATS.SubjectPrefix) {
			fail("nats.subject_prefix %q is not a valid subject token", c.NATS.SubjectPrefix)
		}
		if c.NATS.Stream == "" || c.NATS.KVBucket == "" {
			fail("nats.stream and nats.kv_bucket are required")
		}
	}

	if c.Ingest.MaxIterations < 0 {
		fail("ingest.max_iterations cannot be negative")
	}

	return errors.Join(errs...)
}

func isValidSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == ' ' || r == '*' || r == '>' || r == '.' || r < 0x21 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns the configuration as JSON with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	for _, p := range []*string{&masked.Tacview.Password, &masked.NATS.Password, &masked.NATS.Token} {
		if *p != "" {
			*p = "****"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of environment overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "validate")
		}
	}

	return cfg, nil
}

// loadRaw loads one file as a generic map. JSON and YAML are accepted.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// durationKeys lists the section.key paths that hold durations.
var durationKeys = map[string][]string{
	"tacview":     {"dial_timeout", "read_timeout", "reconnect_delay"},
	"attribution": {"lookback"},
	"batch":       {"flush_timeout", "shutdown_grace", "retry_max_delay", "retry_base_delay"},
	"nats":        {"reconnect_wait"},
	"ingest":      {"stats_interval"},
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for section, keys := range durationKeys {
		m, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %v", errors.ErrInvalidConfig, section, key, err)
			}
			m[key] = d.Nanoseconds()
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var errs []error
	env := func(name string) (string, bool) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false
		}
		if err := validateEnvVar(key, val); err != nil {
			errs = append(errs, err)
			return "", false
		}
		return val, true
	}
	setInt := func(name string, dst *int) {
		if val, ok := env(name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if val, ok := env(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if val, ok := env(name); ok {
			*dst = val
		}
	}

	setString("TACVIEW_HOST", &cfg.Tacview.Host)
	setInt("TACVIEW_PORT", &cfg.Tacview.Port)
	setString("TACVIEW_CLIENT", &cfg.Tacview.Client)
	setString("TACVIEW_PASSWORD", &cfg.Tacview.Password)
	setString("TACVIEW_CAPTURE_PATH", &cfg.Tacview.CapturePath)
	setBool("ATTRIBUTION_ENABLED", &cfg.Attribution.Enabled)
	setBool("BATCH_WRITE_EVENTS", &cfg.Batch.WriteEvents)
	setString("BATCH_FAILURE_POLICY", &cfg.Batch.FailurePolicy)
	setString("STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("STORAGE_DSN", &cfg.Storage.DSN)
	setBool("STORAGE_BULK", &cfg.Storage.Bulk)
	setBool("STORAGE_RESET_SCHEMA", &cfg.Storage.ResetSchema)
	setBool("NATS_ENABLED", &cfg.NATS.Enabled)
	if val, ok := env("NATS_URLS"); ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	setString("NATS_USERNAME", &cfg.NATS.Username)
	setString("NATS_PASSWORD", &cfg.NATS.Password)
	setString("NATS_TOKEN", &cfg.NATS.Token)
	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ADDR", &cfg.Metrics.Addr)
	if val, ok := env("INGEST_MAX_ITERATIONS"); ok {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s_INGEST_MAX_ITERATIONS: %v", errors.ErrInvalidConfig, l.envPrefix, err))
		} else {
			cfg.Ingest.MaxIterations = n
		}
	}
	setBool("INGEST_DRY_RUN", &cfg.Ingest.DryRun)

	return errors.Join(errs...)
}

// SaveToFile saves the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
