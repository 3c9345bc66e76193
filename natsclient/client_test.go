package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/metric"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, -1, c.maxReconnects)
	assert.Equal(t, 2*time.Second, c.reconnectWait)
	assert.False(t, c.IsHealthy())
}

func TestNewClient_EmptyURL(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://a:4222,nats://b:4222",
		WithMaxReconnects(3),
		WithReconnectWait(0), // ignored
		WithCredentials("user", "secret"),
		WithName("acmistream"),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, 2*time.Second, c.reconnectWait)
	assert.Equal(t, "user", c.username)
	assert.Len(t, c.connectionOptions(), 11)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestOperations_RequireConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	err = c.PublishToStream(ctx, "acmi.x.event", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	_, err = c.EnsureStream(ctx, jetstream.StreamConfig{Name: "ACMI"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "ACMI_OBJECTS"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{})
	assert.True(t, errors.IsInvalid(err))

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrJetStreamNotReady)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.True(t, errors.IsFatal(err))
}

func TestConnect_Unreachable(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithMaxReconnects(0),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestMetrics_Status(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)

	c.setStatus(StatusReconnecting)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.metrics.status))

	c.metrics.recordOp("publish", nil)
	c.metrics.recordOp("publish", assert.AnError)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.ops.WithLabelValues("publish", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.ops.WithLabelValues("publish", "error")))
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.True(t, isAlreadyExistsError(jetstream.ErrBucketExists))
	assert.True(t, isAlreadyExistsError(errors.New("nats: stream name already in use")))
	assert.False(t, isAlreadyExistsError(errors.New("timeout")))
	assert.False(t, isAlreadyExistsError(nil))
}
