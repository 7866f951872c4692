package db_test

import (
	"database/sql"
	"log"
	"os"
	"testing"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
	"github.com/MatejaMaric/esdb-denormalizer/testutil"
	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var (
	TestSqlClient   *sql.DB
	TestEsdbClient  *esdb.Client
	TestRedisClient *redis.Client
)

func TestMain(m *testing.M) {
	testutil.SkipIntegration(m)

	pool := testutil.SetupDockertestPool()

	var resourceMariaDB, resourceEventStoreDB, resourceRedis *dockertest.Resource

	eg := &errgroup.Group{}

	eg.Go(func() error {
		var err error
		TestSqlClient, resourceMariaDB, err = testutil.SpawnTestMariaDB(pool)
		return err
	})

	eg.Go(func() error {
		var err error
		TestEsdbClient, resourceEventStoreDB, err = testutil.SpawnTestEventStoreDB(pool)
		return err
	})

	eg.Go(func() error {
		var err error
		TestRedisClient, resourceRedis, err = testutil.SpawnTestRedis(pool)
		return err
	})

	if err := eg.Wait(); err != nil {
		testutil.PurgeResources(pool, resourceMariaDB, resourceEventStoreDB, resourceRedis)
		log.Fatal(err)
	}

	code := m.Run()

	// You can't defer this because os.Exit doesn't care for defer
	testutil.PurgeResources(pool, resourceMariaDB, resourceEventStoreDB, resourceRedis)

	os.Exit(code)
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("needs Docker")
	}
}
