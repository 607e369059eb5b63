package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/gramflow/internal/common"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// ErrLeaseLost is returned when a lease expired or was taken over before Extend or Release
var ErrLeaseLost = errors.New("account lease lost")

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// RedisLocker hands out account leases stored in Redis, visible to every worker process
type RedisLocker struct {
	client   redis.UniversalClient
	prefix   string
	newToken func() string
}

// RedisLockerOption configures the RedisLocker
type RedisLockerOption func(*RedisLocker)

// WithTokenSource overrides how lease owner tokens are generated
func WithTokenSource(newToken func() string) RedisLockerOption {
	return func(l *RedisLocker) {
		l.newToken = newToken
	}
}

// NewRedisLocker creates a Redis-backed locker. Keys are prefix + account key.
func NewRedisLocker(client redis.UniversalClient, prefix string, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:   client,
		prefix:   prefix,
		newToken: common.NewLeaseToken,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (interfaces.Lease, error) {
	lease := &redisLease{client: l.client, key: l.prefix + key, token: l.newToken()}

	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for key %s: %w", lease.key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrConcurrencyConflict, key)
	}
	return lease, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Key() string {
	return l.key
}

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.token, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lock for key %s: %w", l.key, err)
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.key)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock for key %s: %w", l.key, err)
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.key)
	}
	return nil
}

// BadgerLocker stores account leases as TTL entries in the local Badger database.
// Leases are only visible to processes sharing the database, so multi-process
// deployments configure Redis instead.
type BadgerLocker struct {
	db     *badger.DB
	prefix string
}

// NewBadgerLocker creates a Badger-backed locker
func NewBadgerLocker(db *badger.DB) *BadgerLocker {
	return &BadgerLocker{db: db, prefix: "lock:account:"}
}

func (l *BadgerLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (interfaces.Lease, error) {
	lease := &badgerLease{db: l.db, key: []byte(l.prefix + key), token: common.NewLeaseToken()}

	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(lease.key)
		switch {
		case err == nil:
			return models.ErrConcurrencyConflict
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.SetEntry(badger.NewEntry(lease.key, []byte(lease.token)).WithTTL(ttl))
	})
	switch {
	case err == nil:
		return lease, nil
	case errors.Is(err, models.ErrConcurrencyConflict), errors.Is(err, badger.ErrConflict):
		// A concurrent acquire committed first
		return nil, fmt.Errorf("%w: %s", models.ErrConcurrencyConflict, key)
	default:
		return nil, fmt.Errorf("failed to acquire lock for key %s: %w", key, err)
	}
}

type badgerLease struct {
	db    *badger.DB
	key   []byte
	token string
}

func (l *badgerLease) Key() string {
	return string(l.key)
}

// owned fails with ErrLeaseLost unless txn still sees this lease's token
func (l *badgerLease) owned(txn *badger.Txn) error {
	item, err := txn.Get(l.key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.key)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if string(val) != l.token {
			return fmt.Errorf("%w: %s", ErrLeaseLost, l.key)
		}
		return nil
	})
}

func (l *badgerLease) Extend(ctx context.Context, ttl time.Duration) error {
	return l.db.Update(func(txn *badger.Txn) error {
		if err := l.owned(txn); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(l.key, []byte(l.token)).WithTTL(ttl))
	})
}

func (l *badgerLease) Release(ctx context.Context) error {
	return l.db.Update(func(txn *badger.Txn) error {
		if err := l.owned(txn); err != nil {
			return err
		}
		return txn.Delete(l.key)
	})
}
