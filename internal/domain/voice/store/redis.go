package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the redis-backed store.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// NewRedis constructs a redis-backed store and verifies connectivity.
func NewRedis(opts RedisOptions) (Store, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "voice:cloned:"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) key(name string) string {
	return s.prefix + name
}

func (s *redisStore) Save(ctx context.Context, rec Record) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	// Cloned voices never expire; removal is an explicit admin action.
	return s.client.Set(ctx, s.key(rec.Name), data, 0).Err()
}

func (s *redisStore) Delete(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.key(name)).Err()
}

func (s *redisStore) Load(ctx context.Context) ([]Record, error) {
	var (
		out    []Record
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				return nil, err
			}
			var rec Record
			if err := sonic.Unmarshal(data, &rec); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *redisStore) Close(ctx context.Context) error {
	return s.client.Close()
}
