package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document as a string value under namespace+key and
// each log as a list. SET replaces the whole value, matching the file
// backend's semantics; no WATCH/MULTI is used.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// OpenRedis connects to redisURL (redis://host:port/db) and verifies the
// connection with a PING.
func OpenRedis(ctx context.Context, redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.PoolSize = 4
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, &IOError{Op: "connect", Key: redisURL, Err: err}
	}
	if namespace == "" {
		namespace = "switchyard"
	}
	return &RedisStore{client: client, namespace: strings.TrimSuffix(namespace, ":") + ":"}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) docKey(key string) string { return s.namespace + "doc:" + key }
func (s *RedisStore) logKey(key string) string { return s.namespace + "log:" + key }

func (s *RedisStore) Read(ctx context.Context, key string) (*Document, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.docKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	return &Document{Key: key, Data: data}, nil
}

func (s *RedisStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.docKey(key), data, 0).Err(); err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.docKey(key)).Result()
	if err != nil {
		return false, &IOError{Op: "stat", Key: key, Err: err}
	}
	return n > 0, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	base := s.docKey("")
	var keys []string
	iter := s.client.Scan(ctx, 0, base+prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, &IOError{Op: "list", Key: prefix, Err: err}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) AppendRecord(ctx context.Context, key string, record []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.logKey(key), record).Err(); err != nil {
		return &IOError{Op: "append", Key: key, Err: err}
	}
	return nil
}

func (s *RedisStore) ReadRecords(ctx context.Context, key string) ([]json.RawMessage, error) {
	vals, err := s.client.LRange(ctx, s.logKey(key), 0, -1).Result()
	if err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	records := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		if json.Valid([]byte(v)) {
			records = append(records, json.RawMessage(v))
		}
	}
	return records, nil
}
