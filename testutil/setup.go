package testutil

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"testing"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
	"github.com/MatejaMaric/esdb-denormalizer/config"
	"github.com/MatejaMaric/esdb-denormalizer/db"
	"github.com/MatejaMaric/esdb-denormalizer/events"
	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
)

const testDatabase = "denormalizer"

// SkipIntegration exits a TestMain early when -short is set, since every
// spawn below needs a Docker daemon.
func SkipIntegration(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		log.Print("skipping integration tests in short mode")
		os.Exit(m.Run())
	}
}

func SetupDockertestPool() *dockertest.Pool {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	return pool
}

func PurgeResources(pool *dockertest.Pool, resources ...*dockertest.Resource) {
	for i, resource := range resources {
		if resource == nil {
			log.Printf("dockertest resource provided at index %d is nil", i)
			continue
		}
		if err := pool.Purge(resource); err != nil {
			log.Fatalf("Could not purge resource: %s", err)
		}
	}
}

// SpawnTestMariaDB starts MariaDB with an empty users table in the
// denormalizer database.
func SpawnTestMariaDB(pool *dockertest.Pool) (*sql.DB, *dockertest.Resource, error) {
	ropts := dockertest.RunOptions{
		Repository: "mariadb",
		Tag:        "11.0.3-jammy",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=secret",
			"MYSQL_DATABASE=" + testDatabase,
		},
	}

	resource, err := pool.RunWithOptions(&ropts)
	if err != nil {
		return nil, nil, err
	}

	cfg := config.MariaDB{
		Addr:     fmt.Sprintf("localhost:%s", resource.GetPort("3306/tcp")),
		Database: testDatabase,
		User:     "root",
		Password: "secret",
	}

	var sqlClient *sql.DB

	retry := func() error {
		var err error
		sqlClient, err = db.ConnectToMariaDB(cfg)
		return err
	}

	if err := pool.Retry(retry); err != nil {
		return nil, resource, err
	}

	if _, err := sqlClient.Exec(events.UsersTableSchema); err != nil {
		return nil, resource, fmt.Errorf("failed to create the users table: %w", err)
	}

	return sqlClient, resource, nil
}

func SpawnTestEventStoreDB(pool *dockertest.Pool) (*esdb.Client, *dockertest.Resource, error) {
	ropts := dockertest.RunOptions{
		Repository:   "eventstore/eventstore",
		Tag:          "23.10.1-bookworm-slim",
		ExposedPorts: []string{"2113"},
		Env: []string{
			"EVENTSTORE_CLUSTER_SIZE=1",
			"EVENTSTORE_RUN_PROJECTIONS=All",
			"EVENTSTORE_START_STANDARD_PROJECTIONS=true",
			"EVENTSTORE_HTTP_PORT=2113",
			"EVENTSTORE_INSECURE=true",
			"EVENTSTORE_ENABLE_ATOM_PUB_OVER_HTTP=true",
		},
	}

	resource, err := pool.RunWithOptions(&ropts)
	if err != nil {
		return nil, nil, err
	}

	connectionStr := fmt.Sprintf("esdb://localhost:%s?tls=false", resource.GetPort("2113/tcp"))

	var esdbClient *esdb.Client

	retry := func() error {
		if resource != nil && resource.Container != nil {
			containerInfo, containerError := pool.Client.InspectContainer(resource.Container.ID)
			if containerError == nil && !containerInfo.State.Running {
				return fmt.Errorf("unexpected exit of container check the container logs for more information, container ID: %v", resource.Container.ID)
			}
		}

		healthCheckEndpoint := fmt.Sprintf("http://localhost:%s/health/live", resource.GetPort("2113/tcp"))
		res, err := http.Get(healthCheckEndpoint)
		if err != nil {
			return err
		}
		res.Body.Close()
		if res.StatusCode >= 300 {
			return fmt.Errorf("health check returned %s", res.Status)
		}

		esdbClient, err = db.ConnectToEventStoreDB(connectionStr)
		return err
	}

	if err := pool.Retry(retry); err != nil {
		return nil, resource, err
	}

	return esdbClient, resource, nil
}

func SpawnTestRedis(pool *dockertest.Pool) (*redis.Client, *dockertest.Resource, error) {
	ropts := dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7.2-alpine3.18",
	}

	resource, err := pool.RunWithOptions(&ropts)
	if err != nil {
		return nil, nil, err
	}

	var redisClient *redis.Client

	retry := func() error {
		redisClient = redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("localhost:%s", resource.GetPort("6379/tcp")),
		})
		return redisClient.Ping(context.Background()).Err()
	}

	if err := pool.Retry(retry); err != nil {
		return nil, resource, err
	}

	return redisClient, resource, nil
}
