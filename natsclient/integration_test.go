//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_StreamPublish(t *testing.T) {
	tc := NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.True(t, tc.Client.IsHealthy())

	stream, err := tc.Client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "ACMI",
		Subjects: []string{"acmi.>"},
	})
	require.NoError(t, err)

	// a second call updates in place
	_, err = tc.Client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "ACMI",
		Subjects: []string{"acmi.>"},
		MaxAge:   time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.PublishToStream(ctx, "acmi.s1.event", []byte(`{"id":1}`)))
	require.NoError(t, tc.Client.PublishToStream(ctx, "acmi.s1.impact", []byte(`{"target":2}`)))

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)

	err = tc.Client.PublishToStream(ctx, "nowhere.s1", []byte("x"))
	assert.Error(t, err, "no stream captures the subject")
}

func TestIntegration_KVStore(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("ACMI_OBJECTS"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "ACMI_OBJECTS"})
	require.NoError(t, err, "existing bucket is reused")

	kv := tc.Client.NewKVStore(bucket)
	assert.Equal(t, "ACMI_OBJECTS", kv.Bucket())

	type snapshot struct {
		ID    string  `json:"id"`
		Alive bool    `json:"alive"`
		Lat   float64 `json:"lat"`
	}

	rev1, err := kv.PutJSON(ctx, "s1.a01", snapshot{ID: "a01", Alive: true, Lat: 42})
	require.NoError(t, err)
	rev2, err := kv.PutJSON(ctx, "s1.a01", snapshot{ID: "a01", Alive: false, Lat: 42.5})
	require.NoError(t, err)
	assert.Greater(t, rev2, rev1)

	var got snapshot
	require.NoError(t, kv.GetJSON(ctx, "s1.a01", &got))
	assert.Equal(t, snapshot{ID: "a01", Alive: false, Lat: 42.5}, got)

	require.NoError(t, kv.Delete(ctx, "s1.a01"))
	_, err = kv.Get(ctx, "s1.a01")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	_, err = kv.Get(ctx, "s1.missing")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}
