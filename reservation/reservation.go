package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	Timeout   time.Duration = 30 * time.Second
	Persisted string        = "persisted"
)

var (
	ErrAlreadyClaimed   = errors.New("already claimed by another consumer")
	ErrAlreadyPersisted = errors.New("already persisted")
	ErrNotOwner         = errors.New("reservation is not held by this token")
)

type Reservation struct {
	Key         string
	AccessToken string
}

// EventKey names the claim of one recorded event.
func EventKey(streamID string, eventNumber uint64) string {
	return fmt.Sprintf("event:%s@%d", streamID, eventNumber)
}

// Claim reserves key for ttl. It fails with ErrAlreadyPersisted when the key
// was persisted before, and with ErrAlreadyClaimed while someone else holds it.
func Claim(ctx context.Context, redisClient *redis.Client, key string, ttl time.Duration) (Reservation, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return Reservation{}, fmt.Errorf("failed creating an uuid: %w", err)
	}

	ok, err := redisClient.SetNX(ctx, key, token.String(), ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve in Redis: %w", err)
	}

	if !ok {
		current, err := redisClient.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Reservation{}, fmt.Errorf("failed to read the reservation: %w", err)
		}
		if current == Persisted {
			return Reservation{}, fmt.Errorf("%s: %w", key, ErrAlreadyPersisted)
		}
		return Reservation{}, fmt.Errorf("%s: %w", key, ErrAlreadyClaimed)
	}

	return Reservation{
		Key:         key,
		AccessToken: token.String(),
	}, nil
}

func Persist(ctx context.Context, redisClient *redis.Client, reservation Reservation) (Reservation, error) {
	const redisLuaScript string = `if redis.call('GET',KEYS[1]) == ARGV[1]
then
    return redis.call('SET',KEYS[1],ARGV[2])
else
    return 0
end`

	res, err := redisClient.Eval(ctx, redisLuaScript, []string{reservation.Key}, reservation.AccessToken, Persisted).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to persist the reservation: %w", err)
	}

	if n, ok := res.(int64); ok && n == 0 {
		return Reservation{}, fmt.Errorf("%s: %w", reservation.Key, ErrNotOwner)
	}

	return Reservation{
		Key:         reservation.Key,
		AccessToken: Persisted,
	}, nil
}

// Release drops a claim that was not persisted, so the event can be claimed again.
func Release(ctx context.Context, redisClient *redis.Client, reservation Reservation) error {
	const redisLuaScript string = `if redis.call('GET',KEYS[1]) == ARGV[1]
then
    return redis.call('DEL',KEYS[1])
else
    return 0
end`

	res, err := redisClient.Eval(ctx, redisLuaScript, []string{reservation.Key}, reservation.AccessToken).Result()
	if err != nil {
		return fmt.Errorf("failed to release the reservation: %w", err)
	}

	if n, ok := res.(int64); ok && n == 0 {
		return fmt.Errorf("%s: %w", reservation.Key, ErrNotOwner)
	}

	return nil
}

// Claims binds the claim functions to one client and TTL. Consumers with
// different namespaces claim the same event independently.
type Claims struct {
	Client    *redis.Client
	TTL       time.Duration
	Namespace string
}

func (c *Claims) Claim(ctx context.Context, key string) (Reservation, error) {
	ttl := c.TTL
	if ttl == 0 {
		ttl = Timeout
	}
	if c.Namespace != "" {
		key = c.Namespace + ":" + key
	}
	return Claim(ctx, c.Client, key, ttl)
}

func (c *Claims) Persist(ctx context.Context, reservation Reservation) error {
	_, err := Persist(ctx, c.Client, reservation)
	return err
}

func (c *Claims) Release(ctx context.Context, reservation Reservation) error {
	return Release(ctx, c.Client, reservation)
}
