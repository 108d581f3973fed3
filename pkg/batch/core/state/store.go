// Package state holds the state shared by every worker of a batch run: the
// cached batch job, solution details, the access session and run progress.
// A Store decides how far the sharing reaches: one process (MemoryStore),
// processes on one host (FileStore) or any process reaching a redis server
// (RedisStore).
package state

import (
	"context"
	"errors"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

const moduleName = "state"

// Store is a key/value store of JSON documents with a single exclusive lock.
// Get and Put are only consistent with each other while the lock is held.
type Store interface {
	// Lock blocks until the lock is acquired or ctx is done.
	Lock(ctx context.Context) error
	// Unlock releases a lock acquired by Lock.
	Unlock(ctx context.Context) error
	// Get returns the value of key, or nil when it is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key.
	Put(ctx context.Context, key string, value []byte) error
	// Close releases the resources of the store.
	Close() error
}

// ErrLockTimeout is returned when the lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for the shared state lock")

// WithLock runs fn while holding the store lock.
func WithLock(ctx context.Context, store Store, fn func(ctx context.Context) error) (err error) {
	if err := store.Lock(ctx); err != nil {
		return exception.NewBatchError(moduleName, "failed to acquire the shared state lock", err, false, true)
	}
	defer func() {
		// The lock is released even when ctx was canceled meanwhile.
		if unlockErr := store.Unlock(context.WithoutCancel(ctx)); unlockErr != nil && err == nil {
			err = exception.NewBatchError(moduleName, "failed to release the shared state lock", unlockErr, false, false)
		}
	}()
	return fn(ctx)
}

// Load decodes the value of key into target under the lock.
// It reports whether the key was present.
func Load(ctx context.Context, store Store, key string, target interface{}) (bool, error) {
	found := false
	err := WithLock(ctx, store, func(ctx context.Context) error {
		data, err := store.Get(ctx, key)
		if err != nil || data == nil {
			return err
		}
		found = true
		return serialization.Unmarshal(data, target)
	})
	return found, err
}

// Save encodes value and stores it under key, under the lock.
func Save(ctx context.Context, store Store, key string, value interface{}) error {
	data, err := serialization.Marshal(value)
	if err != nil {
		return err
	}
	return WithLock(ctx, store, func(ctx context.Context) error {
		return store.Put(ctx, key, data)
	})
}

// Update reads key into a T, applies fn and writes the result back, all in one
// critical section. fn receives the zero T when the key is absent.
func Update[T any](ctx context.Context, store Store, key string, fn func(current *T) error) (T, error) {
	var value T
	err := WithLock(ctx, store, func(ctx context.Context) error {
		data, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		if err := serialization.Unmarshal(data, &value); err != nil {
			return err
		}
		if err := fn(&value); err != nil {
			return err
		}
		encoded, err := serialization.Marshal(value)
		if err != nil {
			return err
		}
		return store.Put(ctx, key, encoded)
	})
	return value, err
}
