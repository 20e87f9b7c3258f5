package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// updateRetries bounds optimistic-lock retries before Update gives up.
const updateRetries = 5

// RedisStore persists records as JSON strings. Update runs under WATCH so
// a concurrent write to the same key aborts the transaction and the
// mutation retries on a fresh read.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Put writes value under key, replacing any previous record.
func (s *RedisStore) Put(ctx context.Context, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return s.client.Set(ctx, key, raw, 0).Err()
}

// Get returns the record stored under key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return value, nil
}

// Update applies mutate under WATCH with bounded retries.
func (s *RedisStore) Update(ctx context.Context, key string, mutate Mutator) (map[string]any, error) {
	var next map[string]any

	txn := func(tx *redis.Tx) error {
		var current map[string]any
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
		}

		value, err := mutate(current)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		next = value
		return nil
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("updating %s: retries exhausted under contention", key)
}

// CreateIfAbsent uses SET NX so exactly one concurrent creator wins.
func (s *RedisStore) CreateIfAbsent(ctx context.Context, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// AppendEvent appends event to the record's events array.
func (s *RedisStore) AppendEvent(ctx context.Context, key string, event map[string]any) error {
	return appendEventViaUpdate(ctx, s, key, event)
}

// List scans for keys starting with prefix and returns their records.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]map[string]any, error) {
	var out []map[string]any
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		value, err := s.Get(ctx, iter.Val())
		if errors.Is(err, ErrNotFound) {
			// Deleted between scan and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
