package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const (
	redisLockRetryDelay = 50 * time.Millisecond
	defaultRedisLockTTL = 30 * time.Second
)

// releaseLockScript deletes the lock only when it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps the state in redis under a key prefix. The lock is a
// "<prefix>:lock" key taken with SET NX PX and released by token.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	lockTTL time.Duration
	local   *semaphore.Weighted
	token   string // token of the held lock; guarded by local
	owned   bool   // whether Close closes client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr. lockTimeout bounds both the wait for the
// lock and the lifetime of a held lock.
func NewRedisStore(ctx context.Context, addr string, db int, prefix string, lockTimeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to connect to redis at '%s'", addr), err, false, true)
	}
	logger.Debugf("Using redis state store at '%s' (db %d, prefix '%s').", addr, db, prefix)
	store := NewRedisStoreWithClient(client, prefix, lockTimeout)
	store.owned = true
	return store, nil
}

// NewRedisStoreWithClient creates a RedisStore over an existing client.
// The client stays owned by the caller.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, lockTimeout time.Duration) *RedisStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultRedisLockTTL
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		lockTTL: lockTimeout,
		local:   semaphore.NewWeighted(1),
	}
}

func (s *RedisStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + ":" + name
}

// Lock implements Store.
func (s *RedisStore) Lock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()
	if err := s.local.Acquire(ctx, 1); err != nil {
		return lockError(err)
	}

	token := model.NewID()
	backoff := retry.NewConstant(redisLockRetryDelay)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := s.client.SetNX(ctx, s.key("lock"), token, s.lockTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(ErrLockTimeout)
		}
		return nil
	})
	if err != nil {
		s.local.Release(1)
		return lockError(err)
	}
	s.token = token
	return nil
}

// Unlock implements Store.
func (s *RedisStore) Unlock(ctx context.Context) error {
	defer s.local.Release(1)
	token := s.token
	s.token = ""
	if token == "" {
		return nil
	}
	return releaseLockScript.Run(ctx, s.client, []string{s.key("lock")}, token).Err()
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read state key '%s'", key), err, false, true)
	}
	return value, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to write state key '%s'", key), err, false, true)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
