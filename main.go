package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/MatejaMaric/esdb-denormalizer/config"
	"github.com/MatejaMaric/esdb-denormalizer/db"
	"github.com/MatejaMaric/esdb-denormalizer/events"
	"github.com/MatejaMaric/esdb-denormalizer/handler"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/MatejaMaric/esdb-denormalizer/reservation"
	"github.com/MatejaMaric/esdb-denormalizer/stream"
	"github.com/MatejaMaric/esdb-denormalizer/utils"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	esdbClient, err := db.ConnectToEventStoreDB(cfg.EventStoreURL)
	if err != nil {
		logger.Error("failed to connect to EventStoreDB instance", "error", err)
		os.Exit(1)
	}
	logger.Info("successfully connected to EventStoreDB instance")

	sqlClient, err := db.ConnectToMariaDB(cfg.MariaDB)
	if err != nil {
		logger.Error("failed to connect to MariaDB instance", "error", err)
		os.Exit(1)
	}
	logger.Info("successfully connected to MariaDB instance")

	if _, err := sqlClient.ExecContext(ctx, events.UsersTableSchema); err != nil {
		logger.Error("failed to create the users table", "error", err)
		os.Exit(1)
	}

	redisClient, err := db.ConnectToRedis(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to Redis instance", "error", err)
		os.Exit(1)
	}
	logger.Info("successfully connected to Redis instance")

	usersTable, err := db.NewTable[*events.UserView](events.UsersTable, "Username")
	if err != nil {
		logger.Error("failed to map the users table", "error", err)
		os.Exit(1)
	}

	denormalizer := events.NewUserDenormalizer(projections.WithLogger(logger))
	codec := events.UserCodec()

	targets := map[string]projections.Factory[*events.UserView]{
		"mariadb": db.ConnFactory[*events.UserView]{DB: sqlClient, Table: usersTable},
		"state":   projections.Reuse[*events.UserView](db.NewStreamStore[*events.UserView](esdbClient, events.UserStateStream, "Username")),
		"cache":   projections.Reuse[*events.UserView](db.NewRedisStore[*events.UserView](redisClient, "user_view", "Username")),
	}

	var sqlSubscriber *stream.Subscriber
	var workers []*utils.StartStop

	for name, factory := range targets {
		subscriber := &stream.Subscriber{
			Client:   esdbClient,
			Logger:   logger.With("projection", name),
			Prefixes: []string{string(events.UserEventsStream)},
			Codec:    codec,
			Handler:  stream.Dispatch(denormalizer, factory),
			Claims:   &reservation.Claims{Client: redisClient, Namespace: name},
		}
		if name == "mariadb" {
			sqlSubscriber = subscriber
		}

		worker := utils.NewStartStop(ctx, subscriber.Run)
		workers = append(workers, worker)

		go func(name string) {
			if err := worker.Start(); err != nil {
				logger.Error("event subscriber returned an error", "projection", name, "error", err)
			}
		}(name)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.NewHttpHandler(&handler.HttpHandlerContext{
			Ctx:          ctx,
			Log:          logger,
			EsdbClient:   esdbClient,
			Users:        usersTable.Store(sqlClient),
			Denormalizer: denormalizer,
			Codec:        codec,
			Ready:        sqlSubscriber.Ready(),
			RebuildLimit: cfg.ConsumerLimit,
		}),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server's ListenAndServe method returned an error", "error", err)
		}
	}()
	logger.Info("listening", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error("server shutdown returned an error", "error", err)
	}

	for _, worker := range workers {
		if err := worker.Stop(shutdownTimeout); err != nil {
			logger.Error("event subscriber shutdown returned an error", "error", err)
		}
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("closing Redis client returned an error", "error", err)
	}
	if err := sqlClient.Close(); err != nil {
		logger.Error("closing MariaDB client returned an error", "error", err)
	}
	if err := esdbClient.Close(); err != nil {
		logger.Error("closing EventStoreDB client returned an error", "error", err)
	}
}
