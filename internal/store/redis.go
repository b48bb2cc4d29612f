package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis stores each key as a hash with data, version and updated_at fields.
// Set uses WATCH/MULTI so a concurrent writer turns into ErrVersionConflict.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ KV = (*Redis)(nil)

const (
	fieldData      = "data"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
)

// OpenRedis connects to the server named by opts.URL and pings it.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		ro.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		ro.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		ro.WriteTimeout = opts.WriteTimeout
	}

	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, opts.KeyPrefix), nil
}

// NewRedis wraps an existing client. prefix namespaces every key.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Health checks if the Redis connection is healthy.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (Value, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return Value{}, fmt.Errorf("get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return Value{}, ErrNotFound
	}
	return decodeHash(key, fields)
}

func (r *Redis) Set(ctx context.Context, key string, data []byte, expect int64) (int64, error) {
	full := r.prefix + key
	var next int64

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, full, fieldVersion).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read version: %w", err)
		}
		if err := checkVersion(current, expect); err != nil {
			return fmt.Errorf("expected version %d, found %d: %w", expect, current, err)
		}
		next = current + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, full,
				fieldData, data,
				fieldVersion, next,
				fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
			)
			return nil
		})
		return err
	}, full)

	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("set %s: concurrent write: %w", key, ErrVersionConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("set %s: %w", key, err)
	}
	return next, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	iter := r.client.Scan(ctx, 0, r.prefix+escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeHash(key string, fields map[string]string) (Value, error) {
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("get %s: parse version: %w", key, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return Value{}, fmt.Errorf("get %s: parse updated_at: %w", key, err)
	}
	return Value{
		Data:      []byte(fields[fieldData]),
		Version:   version,
		UpdatedAt: updated,
	}, nil
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
