package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

const fileLockRetryDelay = 50 * time.Millisecond

// FileStore keeps the state in a JSON file so that several processes on one
// host can share it. The lock is an advisory file lock on "<path>.lock".
type FileStore struct {
	path        string
	lockTimeout time.Duration
	local       *semaphore.Weighted
	fileLock    *flock.Flock
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore backed by path. A zero lockTimeout waits
// for the lock as long as the caller's context allows.
func NewFileStore(path string, lockTimeout time.Duration) (*FileStore, error) {
	if path == "" {
		return nil, exception.NewBatchError(moduleName, "state file path cannot be empty", nil, false, false)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to create state directory for '%s'", path), err, false, false)
	}
	logger.Debugf("Using file state store '%s'.", path)
	return &FileStore{
		path:        path,
		lockTimeout: lockTimeout,
		local:       semaphore.NewWeighted(1),
		fileLock:    flock.New(path + ".lock"),
	}, nil
}

// Lock implements Store. Goroutines of this process are serialized first,
// then the file lock excludes other processes.
func (s *FileStore) Lock(ctx context.Context) error {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	if err := s.local.Acquire(ctx, 1); err != nil {
		return lockError(err)
	}
	locked, err := s.fileLock.TryLockContext(ctx, fileLockRetryDelay)
	if err != nil || !locked {
		s.local.Release(1)
		if err == nil {
			err = ErrLockTimeout
		}
		return lockError(err)
	}
	return nil
}

// Unlock implements Store.
func (s *FileStore) Unlock(_ context.Context) error {
	defer s.local.Release(1)
	return s.fileLock.Unlock()
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	value, ok := doc[key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

// Put implements Store. The file is replaced atomically.
func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc[key] = serialization.RawMessage(value)
	data, err := serialization.MarshalIndent(doc)
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to encode state file", err, false, false)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to write state file '%s'", tmp), err, false, false)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to replace state file '%s'", s.path), err, false, false)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return s.fileLock.Close()
}

func (s *FileStore) read() (map[string]serialization.RawMessage, error) {
	doc := make(map[string]serialization.RawMessage)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read state file '%s'", s.path), err, false, true)
	}
	if err := serialization.Unmarshal(data, &doc); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("state file '%s' is corrupt", s.path), err, false, false)
	}
	return doc, nil
}

func lockError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}
