package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acmistream/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Second, cfg.Tacview.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Tacview.ReadTimeout)
	assert.Equal(t, []string{"lon", "lat", "alt", "roll", "pitch", "yaw", "u", "v", "heading"}, cfg.Decoder.TupleOrder)
	assert.True(t, cfg.Attribution.Enabled)
	assert.Equal(t, 0.015, cfg.Attribution.BoxLatLon)
	assert.Equal(t, []string{"Air+"}, cfg.Attribution.TargetTypePrefixes)
	assert.Equal(t, PolicyRetry, cfg.Batch.FailurePolicy)
	assert.Equal(t, "127.0.0.1:42674", cfg.Tacview.Address())
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"tacview": {
			"host": "10.1.1.1",
			"port": 42675,
			"read_timeout": "10s"
		},
		"attribution": {
			"lookback": "1500ms",
			"parent_max_dist": 250
		},
		"storage": {"driver": "memory"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "10.1.1.1", cfg.Tacview.Host)
	assert.Equal(t, 42675, cfg.Tacview.Port)
	assert.Equal(t, 10*time.Second, cfg.Tacview.ReadTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Attribution.Lookback)
	assert.Equal(t, 250.0, cfg.Attribution.ParentMaxDist)

	// Untouched keys keep their defaults.
	assert.Equal(t, "acmistream", cfg.Tacview.Client)
	assert.Equal(t, 3*time.Second, cfg.Tacview.ReconnectDelay)
	assert.Equal(t, 100.0, cfg.Attribution.ImpactorMaxDist)
	assert.True(t, cfg.Attribution.Enabled)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
tacview:
  host: tacview.local
  client: range-ingest
decoder:
  tuple_order: [lat, lon, alt, roll, pitch, yaw, u, v, heading]
batch:
  write_events: false
  failure_policy: abort
  flush_timeout: 45s
nats:
  enabled: true
  urls: ["nats://broker:4222"]
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "tacview.local", cfg.Tacview.Host)
	assert.Equal(t, "range-ingest", cfg.Tacview.Client)
	assert.Equal(t, "lat", cfg.Decoder.TupleOrder[0])
	assert.False(t, cfg.Batch.WriteEvents)
	assert.Equal(t, PolicyAbort, cfg.Batch.FailurePolicy)
	assert.Equal(t, 45*time.Second, cfg.Batch.FlushTimeout)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://broker:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "ACMI_OBJECTS", cfg.NATS.KVBucket)
}

func TestLoader_LayersMerge(t *testing.T) {
	base := writeFile(t, "base.yaml", `
tacview:
  host: base-host
  port: 1000
attribution:
  enabled: false
`)
	override := writeFile(t, "override.json", `{"tacview": {"port": 2000}}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "base-host", cfg.Tacview.Host)
	assert.Equal(t, 2000, cfg.Tacview.Port)
	assert.False(t, cfg.Attribution.Enabled)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("ACMISTREAM_TACVIEW_HOST", "env-host")
	t.Setenv("ACMISTREAM_TACVIEW_PORT", "5555")
	t.Setenv("ACMISTREAM_TACVIEW_PASSWORD", "hunter2")
	t.Setenv("ACMISTREAM_ATTRIBUTION_ENABLED", "false")
	t.Setenv("ACMISTREAM_INGEST_MAX_ITERATIONS", "250")
	t.Setenv("ACMISTREAM_NATS_URLS", "nats://a:4222,nats://b:4222")

	path := writeFile(t, "config.json", `{"tacview": {"host": "file-host", "client": "file-client"}}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Tacview.Host)
	assert.Equal(t, 5555, cfg.Tacview.Port)
	assert.Equal(t, "hunter2", cfg.Tacview.Password)
	assert.Equal(t, "file-client", cfg.Tacview.Client)
	assert.False(t, cfg.Attribution.Enabled)
	assert.Equal(t, int64(250), cfg.Ingest.MaxIterations)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
}

func TestLoader_EnvOverrideInvalid(t *testing.T) {
	t.Setenv("ACMISTREAM_TACVIEW_PORT", "not-a-port")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsFatal(err))
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError string
	}{
		{"bad port", `{"tacview": {"port": 70000}}`, "tacview.port 70000 out of range"},
		{"empty host", `{"tacview": {"host": ""}}`, "tacview.host is required"},
		{"bad tuple", `{"decoder": {"tuple_order": ["roll", "lon", "lat"]}}`, "decoder.tuple_order"},
		{"bad policy", `{"batch": {"failure_policy": "drop"}}`, `batch.failure_policy "drop"`},
		{"bad driver", `{"storage": {"driver": "mongo"}}`, `storage.driver "mongo"`},
		{"missing dsn", `{"storage": {"driver": "postgres", "dsn": ""}}`, "storage.dsn is required"},
		{"negative threshold", `{"attribution": {"parent_max_dist": -1}}`, "distance thresholds must be positive"},
		{"bad subject", `{"nats": {"enabled": true, "subject_prefix": "a.b"}}`, "nats.subject_prefix"},
		{"bad duration", `{"tacview": {"read_timeout": "soon"}}`, "tacview.read_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.json", tt.config)

			_, err := NewLoader().LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeFile(t, "config.json", `{"tacview": {"port": 0}}`)

	loader := NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Tacview.Port)
}

func TestLoader_DryRunSkipsDSN(t *testing.T) {
	path := writeFile(t, "config.json", `{"storage": {"driver": "postgres", "dsn": ""}, "ingest": {"dry_run": true}}`)

	_, err := NewLoader().LoadFile(path)
	assert.NoError(t, err)
}

func TestLoader_RejectsUnsupportedFiles(t *testing.T) {
	path := writeFile(t, "config.toml", `host = "x"`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON or YAML")
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot stat")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "}}}", "b": [1, 2]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [`)))
	assert.Error(t, validateJSONDepth([]byte(`]`)))
	assert.Error(t, validateJSONDepth([]byte(strings.Repeat("[", maxJSONDepth+1)+strings.Repeat("]", maxJSONDepth+1))))
}

func TestConfig_CloneAndString(t *testing.T) {
	cfg := Default()
	cfg.Tacview.Password = "secret"
	cfg.NATS.Token = "tok"

	clone := cfg.Clone()
	clone.Attribution.ParentTypes[0] = "changed"
	assert.Equal(t, "Weapon+Missile", cfg.Attribution.ParentTypes[0])

	s := cfg.String()
	assert.NotContains(t, s, "secret")
	assert.NotContains(t, s, `"tok"`)
	assert.Contains(t, s, "****")
	assert.Equal(t, "secret", cfg.Tacview.Password, "String must not mask the original")
}

func TestConfig_SaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	cfg := Default()
	cfg.Tacview.Host = "saved-host"
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-host", loaded.Tacview.Host)
	assert.Equal(t, cfg.Attribution, loaded.Attribution)
}
