//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/storage"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "acmi",
				"POSTGRES_PASSWORD": "acmi",
				"POSTGRES_DB":       "acmi",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://acmi:acmi@%s:%s/acmi?sslmode=disable", host, port.Port())
}

func TestStore_Integration(t *testing.T) {
	dsn := startPostgres(t)

	for _, bulk := range []bool{true, false} {
		t.Run(fmt.Sprintf("bulk=%v", bulk), func(t *testing.T) {
			ctx := context.Background()
			s, err := Open(ctx, config.StorageConfig{
				Driver:      config.DriverPostgres,
				DSN:         dsn,
				Bulk:        bulk,
				ResetSchema: true,
				PoolSize:    2,
			}, nil)
			require.NoError(t, err)
			defer s.Close()

			sess := model.NewSession(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), 42, 41)
			require.NoError(t, s.CreateSession(ctx, sess))
			require.NotZero(t, sess.ID)

			shooter := model.ObjectRecord{ID: 0x101, SessionID: sess.ID, Name: "F-16C", Pilot: "Viper", Alt: model.DefaultAlt, Alive: true, Updates: 1}
			missile := model.ObjectRecord{ID: 0x102, SessionID: sess.ID, Name: "AIM-9", Type: "Weapon+Missile", Alt: model.DefaultAlt, Alive: true, Updates: 1}
			require.NoError(t, s.CreateObject(ctx, shooter))
			require.NoError(t, s.CreateObject(ctx, missile))
			dup := s.CreateObject(ctx, shooter)
			assert.ErrorIs(t, dup, errors.ErrDuplicateRow)
			assert.True(t, errors.IsFatal(dup))

			got, err := s.Object(ctx, sess.ID, 0x102)
			require.NoError(t, err)
			assert.Equal(t, 1.0, got.Alt)
			assert.Nil(t, got.Parent)

			missile.Updates = 2
			missile.Parent = model.Int(0x101)
			missile.ParentDist = model.Float(9)
			missile.Roll = model.Float(2.5)
			sess.TimeOffset = 1.5
			require.NoError(t, s.WriteBatch(ctx, &storage.Batch{
				Seq:     1,
				Session: sess,
				Updates: []model.ObjectRecord{missile},
				Events:  []model.Event{shooter.ToEvent(), missile.ToEvent()},
				Impacts: []model.Impact{{SessionID: sess.ID, Target: 0x101, Weapon: 0x102, TimeOffset: 1.5, ImpactDist: 4}},
			}))

			got, err = s.Object(ctx, sess.ID, 0x102)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Updates)
			require.NotNil(t, got.Roll)
			assert.Equal(t, 2.5, *got.Roll)

			for relation, want := range map[string]int64{
				"object": 2, "event": 2, "impact": 1, "obj_events": 2, "parent_summary": 1,
			} {
				n, err := s.Count(ctx, relation, sess.ID)
				require.NoError(t, err)
				assert.Equal(t, want, n, relation)
			}

			err = s.WriteBatch(ctx, &storage.Batch{
				Seq:     2,
				Session: sess,
				Updates: []model.ObjectRecord{{ID: 0xdead, SessionID: sess.ID, Alt: 1, Updates: 2}},
				Events:  []model.Event{missile.ToEvent()},
			})
			assert.ErrorIs(t, err, errors.ErrBatchRejected)

			n, err := s.Count(ctx, "event", sess.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n, "rejected batch is rolled back")
		})
	}
}
