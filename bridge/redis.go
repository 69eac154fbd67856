package bridge

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
)

// RedisSnapshot keeps the latest version of every row as a Redis hash
type RedisSnapshot struct {
	client *redis.Client
}

// NewRedisSnapshot connects to Redis and pings it
func NewRedisSnapshot(ctx context.Context, cfg config.RedisConfig) (*RedisSnapshot, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapTransient(err, "RedisSnapshot", "NewRedisSnapshot", "ping redis")
	}
	return &RedisSnapshot{client: client}, nil
}

// PutRow sets the row's fields on the hash at key and refreshes its expiry
func (s *RedisSnapshot) PutRow(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		values = append(values, k, v)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "RedisSnapshot", "PutRow", "write "+key)
	}
	return nil
}

// DeleteRow removes the hash at key
func (s *RedisSnapshot) DeleteRow(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.WrapTransient(err, "RedisSnapshot", "DeleteRow", "delete "+key)
	}
	return nil
}

// Row reads the hash at key
func (s *RedisSnapshot) Row(ctx context.Context, key string) (map[string]string, error) {
	row, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.WrapTransient(err, "RedisSnapshot", "Row", "read "+key)
	}
	if len(row) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "RedisSnapshot", "Row", "read "+key)
	}
	return row, nil
}

// Close closes the client
func (s *RedisSnapshot) Close() error {
	return s.client.Close()
}
