package state_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
)

type storeFactory func(t *testing.T) (state.Store, state.Store)

// backends returns two stores per backend that share the same state, as two
// processes would.
func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) (state.Store, state.Store) {
			s := state.NewMemoryStore()
			return s, s
		},
		"file": func(t *testing.T) (state.Store, state.Store) {
			path := filepath.Join(t.TempDir(), "state.json")
			a, err := state.NewFileStore(path, 5*time.Second)
			require.NoError(t, err)
			b, err := state.NewFileStore(path, 5*time.Second)
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
			return a, b
		},
		"redis": func(t *testing.T) (state.Store, state.Store) {
			srv := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return state.NewRedisStoreWithClient(client, "test", 5*time.Second),
				state.NewRedisStoreWithClient(client, "test", 5*time.Second)
		},
	}
}

func TestStoresShareDocuments(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := factory(t)

			shared := state.NewSharedState(a)
			other := state.NewSharedState(b)

			job, err := other.BatchJob(ctx)
			require.NoError(t, err)
			assert.Nil(t, job, "absent document")

			require.NoError(t, shared.PutBatchJob(ctx, &model.BatchJob{ID: "job-1", State: model.JobStateRunning}))
			job, err = other.BatchJob(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, "job-1", job.ID)
			assert.Equal(t, model.JobStateRunning, job.State)

			expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
			require.NoError(t, shared.PutAccessSession(ctx, &model.AccessSession{AccessToken: "tok", ExpiresAt: expires}))
			session, err := other.AccessSession(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok", session.AccessToken)
			assert.True(t, expires.Equal(session.ExpiresAt))

			require.NoError(t, shared.PutObjectRegistration(ctx, &model.ObjectRegistration{RestPath: "cycles", FieldNames: []string{"runTypeCd"}}))
			require.NoError(t, other.PutObjectRegistration(ctx, &model.ObjectRegistration{RestPath: "analysisRuns"}))
			reg, err := shared.ObjectRegistration(ctx, "cycles")
			require.NoError(t, err)
			assert.True(t, reg.HasField("runTypeCd"))
			reg, err = shared.ObjectRegistration(ctx, "analysisRuns")
			require.NoError(t, err)
			assert.NotNil(t, reg)
		})
	}
}

func TestProgressIsConsistentUnderConcurrency(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := factory(t)
			pa := state.NewProgressState(a)
			pb := state.NewProgressState(b)
			require.NoError(t, pa.Start(ctx, 40))

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					_, err := pa.Finish(ctx, 1, "a", "done", time.Second)
					assert.NoError(t, err)
				}(i)
				go func(i int) {
					defer wg.Done()
					_, err := pb.IncrementStep(ctx)
					assert.NoError(t, err)
					assert.NoError(t, pb.AddElapsed(ctx, time.Second))
				}(i)
			}
			wg.Wait()

			snapshot, err := pa.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, 40, snapshot.Step)
			assert.Equal(t, 40, snapshot.Total)
			assert.Equal(t, 40*time.Second, snapshot.TotalElapsed)
			assert.Equal(t, map[string]string{state.InProgressKey(1, "a"): "done"}, snapshot.InProgress)
		})
	}
}

func TestMemoryLockHonorsContext(t *testing.T) {
	store := state.NewMemoryStore()
	require.NoError(t, store.Lock(context.Background()))
	defer func() { _ = store.Unlock(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, store.Lock(ctx))
}

func TestFileStoreKeepsDocumentsVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := state.NewFileStore(path, time.Second)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job", []byte(`{"id":"job-1","steps":[]}`)))
	require.NoError(t, store.Put(ctx, "progress", []byte(`{"step":2}`)))

	value, err := store.Get(ctx, "job")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"job-1","steps":[]}`, string(value))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"job\": ", "the file is indented")

	missing, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store, err := state.NewFileStore(path, time.Second)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "job")
	assert.ErrorContains(t, err, "is corrupt")
}

func TestFileLockWaitsForHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := state.NewFileStore(path, 0)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(store.Lock(ctx), state.ErrLockTimeout))

	require.NoError(t, store.Unlock(context.Background()))
	require.NoError(t, store.Lock(context.Background()))
	require.NoError(t, store.Unlock(context.Background()))
}

func TestRedisLockTimesOutWhileHeld(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	holder := state.NewRedisStoreWithClient(client, "p", 200*time.Millisecond)
	waiter := state.NewRedisStoreWithClient(client, "p", 200*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, holder.Lock(ctx))
	err := waiter.Lock(ctx)
	assert.True(t, errors.Is(err, state.ErrLockTimeout), "got %v", err)

	require.NoError(t, holder.Unlock(ctx))
	require.NoError(t, waiter.Lock(ctx))
	require.NoError(t, waiter.Unlock(ctx))
	assert.False(t, srv.Exists("p:lock"))
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewStore(ctx, config.StateConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &state.MemoryStore{}, store)

	store, err = state.NewStore(ctx, config.StateConfig{Backend: "file", FilePath: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &state.FileStore{}, store)
	require.NoError(t, store.Close())

	srv := miniredis.RunT(t)
	store, err = state.NewStore(ctx, config.StateConfig{Backend: "redis", RedisAddr: srv.Addr(), RedisPrefix: "x"})
	require.NoError(t, err)
	assert.IsType(t, &state.RedisStore{}, store)
	require.NoError(t, store.Close())

	_, err = state.NewStore(ctx, config.StateConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestConfigState(t *testing.T) {
	cs := state.NewConfigState()
	assert.Nil(t, cs.Get())
	cfg := model.NewBatchConfig("b.yaml", model.GeneralSettings{}, nil, nil, nil, nil, nil)
	cs.Put(cfg)
	assert.Same(t, cfg, cs.Get())
}
