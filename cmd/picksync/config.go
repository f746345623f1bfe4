package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/unkn0wn-root/picksync/codec"
)

// config is read from PICKSYNC_* variables; command-line flags override it.
type config struct {
	MongoURI  string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database  string `env:"DATABASE" envDefault:"picksync"`
	Namespace string `env:"NAMESPACE" envDefault:"picksync"`

	Persist   string `env:"PERSIST" envDefault:"none"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Codec     string `env:"CODEC" envDefault:"msgpack"`

	Logger   string `env:"LOGGER" envDefault:"zap"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	ChunkSize int           `env:"CHUNK_SIZE" envDefault:"50"`
	TTL       time.Duration `env:"TTL" envDefault:"30m"`
	Breaker   bool          `env:"BREAKER" envDefault:"true"`

	MetricsAddr   string        `env:"METRICS_ADDR" envDefault:":9108"`
	WatchInterval time.Duration `env:"WATCH_INTERVAL" envDefault:"5s"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PICKSYNC_"}); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c config) validate() error {
	switch c.Persist {
	case "none", "memory", "ristretto", "bigcache", "redis":
	default:
		return fmt.Errorf("unknown --persist %q (none|memory|ristretto|bigcache|redis)", c.Persist)
	}
	if _, err := codec.ParseFormat(c.Codec); err != nil {
		return err
	}
	switch c.Logger {
	case "zap", "logrus", "slog":
	default:
		return fmt.Errorf("unknown --logger %q (zap|logrus|slog)", c.Logger)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("--chunk-size must be positive, got %d", c.ChunkSize)
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", c.WatchInterval)
	}
	return nil
}
