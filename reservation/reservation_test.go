package reservation_test

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/MatejaMaric/esdb-denormalizer/reservation"
	"github.com/MatejaMaric/esdb-denormalizer/testutil"
	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
)

var TestRedisClient *redis.Client

func TestMain(m *testing.M) {
	testutil.SkipIntegration(m)

	pool := testutil.SetupDockertestPool()

	var resourceRedis *dockertest.Resource
	var err error

	TestRedisClient, resourceRedis, err = testutil.SpawnTestRedis(pool)
	if err != nil {
		testutil.PurgeResources(pool, resourceRedis)
		log.Fatal(err)
	}

	code := m.Run()

	// You can't defer this because os.Exit doesn't care for defer
	testutil.PurgeResources(pool, resourceRedis)

	os.Exit(code)
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("needs Docker")
	}
}

func TestEventKey(t *testing.T) {
	if key := reservation.EventKey("user_events-test", 3); key != "event:user_events-test@3" {
		t.Fatalf("unexpected key: %s", key)
	}
}

func TestClaimAndPersist(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()
	key := reservation.EventKey("user_events-persist", 0)

	res, err := reservation.Claim(ctx, TestRedisClient, key, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if ttl := CheckTTL(t, ctx, key); ttl <= 0 {
		t.Fatalf("claimed key should expire, TTL: %s", ttl)
	}

	_, err = reservation.Claim(ctx, TestRedisClient, key, 2*time.Second)
	if !errors.Is(err, reservation.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got: %v", err)
	}

	res, err = reservation.Persist(ctx, TestRedisClient, res)
	if err != nil {
		t.Fatal(err)
	}

	if ttl := CheckTTL(t, ctx, key); ttl != -1 {
		t.Fatal("persisted reservation should not have an expiration (TTL)")
	}

	if val := TestRedisClient.Get(ctx, key).Val(); val != reservation.Persisted {
		t.Fatalf("unexpected token: %s", val)
	}

	_, err = reservation.Claim(ctx, TestRedisClient, key, 2*time.Second)
	if !errors.Is(err, reservation.ErrAlreadyPersisted) {
		t.Fatalf("expected ErrAlreadyPersisted, got: %v", err)
	}
}

func TestRelease(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()
	claims := &reservation.Claims{Client: TestRedisClient, TTL: time.Minute}
	key := reservation.EventKey("user_events-release", 0)

	res, err := claims.Claim(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	stolen := reservation.Reservation{Key: key, AccessToken: "someone-else"}
	if err := claims.Release(ctx, stolen); !errors.Is(err, reservation.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got: %v", err)
	}
	if err := claims.Persist(ctx, stolen); !errors.Is(err, reservation.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got: %v", err)
	}

	if err := claims.Release(ctx, res); err != nil {
		t.Fatal(err)
	}

	if _, err := claims.Claim(ctx, key); err != nil {
		t.Fatalf("released key should be claimable again: %v", err)
	}
}

func TestClaimsNamespace(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()
	key := reservation.EventKey("user_events-namespace", 0)

	sql := &reservation.Claims{Client: TestRedisClient, Namespace: "mariadb"}
	cache := &reservation.Claims{Client: TestRedisClient, Namespace: "cache"}

	res, err := sql.Claim(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if res.Key != "mariadb:"+key {
		t.Fatalf("unexpected key: %s", res.Key)
	}

	if _, err := cache.Claim(ctx, key); err != nil {
		t.Fatalf("other namespace should claim independently: %v", err)
	}

	if _, err := sql.Claim(ctx, key); !errors.Is(err, reservation.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got: %v", err)
	}
}

func CheckTTL(t *testing.T, ctx context.Context, key string) time.Duration {
	ttlCmd := TestRedisClient.TTL(ctx, key)
	if err := ttlCmd.Err(); err != nil {
		t.Fatal(err)
	}

	ttl := ttlCmd.Val()

	switch ttl {
	case -2:
		t.Log("TTL is -2 (key does not exist)")
	case -1:
		t.Log("TTL is -1 (key exists, but has no associated expiry)")
	default:
		t.Logf("TTL: %s", ttl)
	}

	return ttl
}
