package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	// StoreBackend selects the reservation store: mongo or postgres.
	StoreBackend string `env:"STORE_BACKEND, default=mongo"`
	// LockBackend selects the provider lock: local, redis or postgres.
	LockBackend string        `env:"LOCK_BACKEND, default=redis"`
	LockTTL     time.Duration `env:"LOCK_TTL,     default=10s"`

	EventWorkers int `env:"EVENT_WORKERS, default=8"`

	Mongo    MongoConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Admin    AdminConfig
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=reservation_system"`
}

type PostgresConfig struct {
	DSN string `env:"POSTGRES_DSN"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

type KafkaConfig struct {
	// Brokers is a comma separated list; empty disables the event sink.
	Brokers []string `env:"KAFKA_BROKERS"`
	Topic   string   `env:"KAFKA_TOPIC, default=reservation.events"`
}

type AdminConfig struct {
	Email    string `env:"ADMIN_EMAIL"`
	Password string `env:"ADMIN_PASSWORD"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend selections and the settings they depend on.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMongo:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.LockBackend {
	case BackendLocal, BackendRedis:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required when LOCK_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: unknown LOCK_BACKEND %q", c.LockBackend)
	}

	if c.EventWorkers < 0 {
		return fmt.Errorf("config: EVENT_WORKERS must not be negative")
	}
	return nil
}

// IsProduction reports whether ENV is set to production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether any component needs a Postgres pool.
func (c *Config) UsesPostgres() bool {
	return c.StoreBackend == BackendPostgres || c.LockBackend == BackendPostgres
}
