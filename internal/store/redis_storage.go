package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps every value as a redis hash, mapping struct fields by
// their `redis` tags.
type RedisStorage struct {
	rdb redis.UniversalClient
}

func (s *RedisStorage) Conn() redis.UniversalClient {
	return s.rdb
}

func (s *RedisStorage) Get(ctx context.Context, key string, val any) error {
	cmd := s.rdb.HGetAll(ctx, key)
	if err := cmd.Err(); err != nil {
		return err
	}
	if len(cmd.Val()) == 0 {
		return ErrNotFound
	}
	return cmd.Scan(val)
}

func (s *RedisStorage) Set(ctx context.Context, key string, val any, expiresIn time.Duration) error {
	if expiresIn == -1 {
		return s.Save(ctx, key, val)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, val)
	pipe.Expire(ctx, key, expiresIn)
	_, err := pipe.Exec(ctx)
	return err
}

// Save overwrites the hash fields, HSET leaves the key's TTL untouched.
func (s *RedisStorage) Save(ctx context.Context, key string, val any) error {
	return s.rdb.HSet(ctx, key, val).Err()
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	deleted, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStorage) Expire(ctx context.Context, key string, expiresAt time.Time) error {
	return s.rdb.ExpireAt(ctx, key, expiresAt).Err()
}

func NewRedisStorage(db redis.UniversalClient) *RedisStorage {
	return &RedisStorage{
		rdb: db,
	}
}
