package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acmistream/batch"
	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/storage"
	"github.com/c360/acmistream/storage/memory"
	"github.com/c360/acmistream/storage/sqlite"
)

func TestFanout_MirrorsSeePrimaryID(t *testing.T) {
	ctx := context.Background()
	primary, mirror := memory.New(), memory.New()

	// Burn an id on the primary so the two stores would disagree on their own.
	require.NoError(t, primary.CreateSession(ctx, model.NewSession(time.Now(), 0, 0)))

	f := storage.NewFanout(primary, mirror)
	sess := model.NewSession(time.Now(), 1, 2)
	require.NoError(t, f.CreateSession(ctx, sess))
	assert.Equal(t, int64(2), sess.ID)

	_, ok := mirror.Session(2)
	assert.True(t, ok)

	rec := model.ObjectRecord{ID: 5, SessionID: sess.ID}
	require.NoError(t, f.CreateObject(ctx, rec))
	require.NoError(t, f.WriteBatch(ctx, &storage.Batch{Seq: 1, Session: sess, Updates: []model.ObjectRecord{rec}}))
	assert.Equal(t, []uint64{1}, mirror.Batches())
	require.NoError(t, f.Close())
}

func TestFanout_FirstErrorWins(t *testing.T) {
	ctx := context.Background()
	primary, bad, good := memory.New(), memory.New(), memory.New()
	f := storage.NewFanout(primary, bad, good)

	sess := model.NewSession(time.Now(), 0, 0)
	require.NoError(t, f.CreateSession(ctx, sess))

	bad.FailWrites(errors.ErrStorageUnavailable)
	err := f.WriteBatch(ctx, &storage.Batch{Seq: 1, Session: sess})
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)
	assert.Equal(t, []uint64{1}, primary.Batches())
	assert.Equal(t, []uint64{1}, good.Batches(), "later mirrors are still written")
}

func TestFanout_RetryOnlyRewritesFailedSinks(t *testing.T) {
	ctx := context.Background()
	primary, mirror := memory.New(), memory.New()
	f := storage.NewFanout(primary, mirror)

	sess := model.NewSession(time.Now(), 0, 0)
	require.NoError(t, f.CreateSession(ctx, sess))
	batch := &storage.Batch{Seq: 1, Session: sess, Events: []model.Event{{ID: 1, SessionID: sess.ID}}}

	mirror.FailWrites(errors.ErrStorageUnavailable)
	require.Error(t, f.WriteBatch(ctx, batch))

	mirror.FailWrites(nil)
	require.NoError(t, f.WriteBatch(ctx, batch))

	assert.Equal(t, []uint64{1}, primary.Batches(), "the primary is not written twice")
	assert.Len(t, primary.Events(), 1)
	assert.Equal(t, []uint64{1}, mirror.Batches())
}

func TestFanout_CreateRetryOnlyReachesFailedMirror(t *testing.T) {
	ctx := context.Background()
	primary, mirror := memory.New(), memory.New()
	f := storage.NewFanout(primary, mirror)

	sess := model.NewSession(time.Now(), 0, 0)
	mirror.FailNextCreate(errors.WrapTransient(errors.ErrStorageUnavailable, "mirror", "CreateSession", "publish"))
	require.Error(t, f.CreateSession(ctx, sess))
	require.Equal(t, int64(1), sess.ID, "the primary took the session")

	require.NoError(t, f.CreateSession(ctx, sess))
	assert.Equal(t, 1, primary.Sessions(), "the primary is not written twice")
	assert.Equal(t, 1, mirror.Sessions())

	rec := model.ObjectRecord{ID: 0xa01, SessionID: sess.ID}
	mirror.FailNextCreate(errors.WrapTransient(errors.ErrStorageUnavailable, "mirror", "CreateObject", "publish"))
	require.Error(t, f.CreateObject(ctx, rec))
	require.NoError(t, f.CreateObject(ctx, rec), "a duplicate on the primary would be fatal")

	_, ok := mirror.Object(sess.ID, 0xa01)
	assert.True(t, ok)
	assert.Len(t, primary.Objects(sess.ID), 1)
}

func TestFanout_WriterRecoversFromMirrorFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	primary, err := sqlite.Open(ctx, config.StorageConfig{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "acmi.db"),
		PoolSize: 2,
	}, nil)
	require.NoError(t, err)
	mirror := memory.New()
	f := storage.NewFanout(primary, mirror)
	t.Cleanup(func() { _ = f.Close() })

	cfg := config.Default().Batch
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	w, err := batch.NewWriter(cfg, f, batch.Deps{})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	sess := model.NewSession(time.Now(), 42, 41)
	mirror.FailNextCreate(errors.WrapTransient(errors.ErrStorageUnavailable, "mirror", "CreateSession", "publish"))
	require.NoError(t, w.CreateSession(ctx, sess))

	rec := model.ObjectRecord{ID: 0xa01, SessionID: sess.ID, Alt: model.DefaultAlt, Alive: true, Updates: 1}
	mirror.FailNextCreate(errors.WrapTransient(errors.ErrStorageUnavailable, "mirror", "CreateObject", "publish"))
	require.NoError(t, w.EnqueueCreate(ctx, rec))

	require.NoError(t, w.Close(ctx))
	assert.Equal(t, int64(2), w.Stats().Retries)
	assert.Equal(t, 1, mirror.Sessions())

	n, err := primary.Count(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, found, err := primary.Object(ctx, sess.ID, 0xa01)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestBatch_Empty(t *testing.T) {
	var nilBatch *storage.Batch
	assert.True(t, nilBatch.Empty())
	assert.True(t, (&storage.Batch{Session: &model.Session{}}).Empty())
	b := &storage.Batch{Events: []model.Event{{}}, Impacts: []model.Impact{{}}}
	assert.False(t, b.Empty())
	assert.Equal(t, 2, b.Rows())
}
