package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "slaprobe:"
	redisScanCount     = 256
)

// Redis is a KV backed by one Redis hash per collection. HSET/HGET/HDEL are
// single-key atomic, which is all the pipeline requires.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the server at url and verifies it with PING.
func OpenRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: ping redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

// NewRedis wraps an existing client. An empty prefix selects "slaprobe:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) hash(c Collection) string { return r.prefix + string(c) }

func (r *Redis) Get(ctx context.Context, c Collection, key []byte) ([]byte, error) {
	v, err := r.client.HGet(ctx, r.hash(c), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get %s/%s: %w", c, key, err)
	}
	return v, nil
}

func (r *Redis) Put(ctx context.Context, c Collection, key, value []byte) error {
	if err := r.client.HSet(ctx, r.hash(c), string(key), value).Err(); err != nil {
		return fmt.Errorf("store: redis put %s/%s: %w", c, key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, c Collection, key []byte) error {
	if err := r.client.HDel(ctx, r.hash(c), string(key)).Err(); err != nil {
		return fmt.Errorf("store: redis delete %s/%s: %w", c, key, err)
	}
	return nil
}

// Scan walks the collection hash with HSCAN. Entries written during the scan
// may or may not be visited.
func (r *Redis) Scan(ctx context.Context, c Collection, fn func(key, value []byte) error) error {
	var cursor uint64
	for {
		kvs, next, err := r.client.HScan(ctx, r.hash(c), cursor, "", redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("store: redis scan %s: %w", c, err)
		}
		for i := 0; i+1 < len(kvs); i += 2 {
			if err := fn([]byte(kvs[i]), []byte(kvs[i+1])); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *Redis) Close() error { return r.client.Close() }
