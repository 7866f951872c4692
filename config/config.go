package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"DENORMALIZER_HTTP_ADDR" envDefault:":8080"`
	LogLevel slog.Level `env:"DENORMALIZER_LOG_LEVEL" envDefault:"DEBUG"`

	EventStoreURL string `env:"DENORMALIZER_ESDB_URL" envDefault:"esdb://localhost:2113?tls=false"`
	RedisURL      string `env:"DENORMALIZER_REDIS_URL" envDefault:"redis://localhost:6379/"`

	MariaDB MariaDB `envPrefix:"DENORMALIZER_MARIADB_"`

	// ConsumerLimit bounds concurrent dispatches when replaying a batch.
	ConsumerLimit int `env:"DENORMALIZER_CONSUMER_LIMIT" envDefault:"8"`
}

type MariaDB struct {
	Addr     string `env:"ADDR" envDefault:"127.0.0.1:3306"`
	Database string `env:"DATABASE" envDefault:"projected_models"`
	User     string `env:"USER" envDefault:"playground_user"`
	Password string `env:"PASSWORD" envDefault:"playground_user_password"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse env: %w", err)
	}
	return cfg, nil
}
