package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLocker coordinates processes on different machines through a shared
// Redis instance.
//
// Lock state lives in a single hash: a field value of -1 marks an exclusive
// writer, a positive value counts readers. The scripts keep check-and-update
// atomic on the server.
type RedisLocker struct {
	client  redis.UniversalClient
	lockKey string
	sizeKey string
}

var (
	redisStopWriting = redis.NewScript(`
		if redis.call('hget', KEYS[1], ARGV[1]) == '-1' then
			redis.call('hdel', KEYS[1], ARGV[1])
		else
			return redis.error_reply('not writing')
		end`)

	redisStartReading = redis.NewScript(`
		if redis.call('hget', KEYS[1], ARGV[1]) == '-1' then
			return 0
		else
			redis.call('hincrby', KEYS[1], ARGV[1], 1)
			return 1
		end`)

	redisStopReading = redis.NewScript(`
		local lock = redis.call('hget', KEYS[1], ARGV[1])
		if lock == '1' then
			redis.call('hdel', KEYS[1], ARGV[1])
		elseif not lock or tonumber(lock) < 1 then
			return redis.error_reply('not reading')
		else
			redis.call('hincrby', KEYS[1], ARGV[1], -1)
		end`)
)

// NewRedisLocker creates a locker over an existing client. The prefix
// namespaces the lock hash and the volume counter so several storages can
// share one Redis.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{
		client:  client,
		lockKey: prefix + ".L",
		sizeKey: prefix + ".V",
	}
}

// NewRedisLockerFromURL connects to redis using a URL of the form
// redis://host:port/db.
func NewRedisLockerFromURL(url, prefix string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("storage: parsing redis url: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opts), prefix), nil
}

func (l *RedisLocker) StartWriting(ctx context.Context, key Key) (bool, error) {
	ok, err := l.client.HSetNX(ctx, l.lockKey, key, -1).Result()
	if err != nil {
		return false, fmt.Errorf("storage: redis start writing: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) StopWriting(ctx context.Context, key Key) error {
	if err := redisStopWriting.Run(ctx, l.client, []string{l.lockKey}, key).Err(); err != nil {
		return fmt.Errorf("storage: redis stop writing %q: %w", key, err)
	}
	return nil
}

func (l *RedisLocker) StartReading(ctx context.Context, key Key) (bool, error) {
	n, err := redisStartReading.Run(ctx, l.client, []string{l.lockKey}, key).Int()
	if err != nil {
		return false, fmt.Errorf("storage: redis start reading: %w", err)
	}
	return n == 1, nil
}

func (l *RedisLocker) StopReading(ctx context.Context, key Key) error {
	if err := redisStopReading.Run(ctx, l.client, []string{l.lockKey}, key).Err(); err != nil {
		return fmt.Errorf("storage: redis stop reading %q: %w", key, err)
	}
	return nil
}

func (l *RedisLocker) Size(ctx context.Context) (int64, error) {
	n, err := l.client.Get(ctx, l.sizeKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: redis size: %w", err)
	}
	return n, nil
}

func (l *RedisLocker) SetSize(ctx context.Context, size int64) error {
	if err := l.client.Set(ctx, l.sizeKey, size, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set size: %w", err)
	}
	return nil
}

func (l *RedisLocker) AddSize(ctx context.Context, delta int64) error {
	if err := l.client.IncrBy(ctx, l.sizeKey, delta).Err(); err != nil {
		return fmt.Errorf("storage: redis add size: %w", err)
	}
	return nil
}

// Close releases the underlying redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
