package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/redis/go-redis/v9"
)

var ErrUnsupportedFilter = errors.New("filter does not name exactly the key fields")

func ConnectToRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := client.Ping(ctx)
	if res.Err() != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", res.Err())
	}

	return client, nil
}

// RedisStore keeps one JSON document per projection under prefix:k1:k2,
// built from the key field values. It can only look projections up by their
// full key.
type RedisStore[P any] struct {
	Client *redis.Client
	Prefix string
	Keys   []string
}

var _ projections.Store[any] = (*RedisStore[any])(nil)

func NewRedisStore[P any](client *redis.Client, prefix string, keys ...string) *RedisStore[P] {
	return &RedisStore[P]{Client: client, Prefix: prefix, Keys: keys}
}

func (s *RedisStore[P]) Read(ctx context.Context, filters projections.Filters) ([]P, error) {
	key, err := s.keyFromFilters(filters)
	if err != nil {
		return nil, err
	}

	data, err := s.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}

	var projection P
	if err := json.Unmarshal(data, &projection); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	return []P{projection}, nil
}

func (s *RedisStore[P]) Insert(ctx context.Context, projection P) error {
	key, data, err := s.encode(projection)
	if err != nil {
		return err
	}

	if err := s.Client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}

	return nil
}

// Update only overwrites documents that already exist.
func (s *RedisStore[P]) Update(ctx context.Context, projection P) error {
	key, data, err := s.encode(projection)
	if err != nil {
		return err
	}

	if err := s.Client.SetXX(ctx, key, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update %s in Redis: %w", key, err)
	}

	return nil
}

func (s *RedisStore[P]) Remove(ctx context.Context, filters projections.Filters) error {
	key, err := s.keyFromFilters(filters)
	if err != nil {
		return err
	}

	if err := s.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from Redis: %w", key, err)
	}

	return nil
}

func (s *RedisStore[P]) encode(projection P) (string, []byte, error) {
	filters, err := projections.KeyOf(projection, s.Keys...)
	if err != nil {
		return "", nil, err
	}

	data, err := json.Marshal(projection)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal json: %w", err)
	}

	return s.key(filters), data, nil
}

func (s *RedisStore[P]) keyFromFilters(filters projections.Filters) (string, error) {
	if len(filters) != len(s.Keys) {
		return "", fmt.Errorf("%w: got %s, keys %v", ErrUnsupportedFilter, filters, s.Keys)
	}

	ordered := make(projections.Filters, 0, len(s.Keys))
	for _, k := range s.Keys {
		v, ok := filters.Get(k)
		if !ok {
			return "", fmt.Errorf("%w: got %s, keys %v", ErrUnsupportedFilter, filters, s.Keys)
		}
		ordered = append(ordered, projections.Filter(k, v))
	}

	return s.key(ordered), nil
}

func (s *RedisStore[P]) key(filters projections.Filters) string {
	parts := make([]string, 0, len(filters)+1)
	parts = append(parts, s.Prefix)
	for _, f := range filters {
		parts = append(parts, fmt.Sprint(f.Value()))
	}
	return strings.Join(parts, ":")
}
