package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/99minutos/reservation-system/internal/core/ports"
	"github.com/99minutos/reservation-system/internal/infrastructure/config"
	mongostore "github.com/99minutos/reservation-system/internal/infrastructure/db/mongo"
	pgstore "github.com/99minutos/reservation-system/internal/infrastructure/db/postgres"
	redisstore "github.com/99minutos/reservation-system/internal/infrastructure/db/redis"
	"github.com/99minutos/reservation-system/internal/infrastructure/http/handlers"
	"github.com/99minutos/reservation-system/internal/infrastructure/lock"
)

// backends holds the storage adapters selected by configuration.
type backends struct {
	reservations ports.ReservationRepository
	users        ports.UserRepository
	events       ports.EventRepository
	locker       ports.ProviderLocker
	redis        *goredis.Client
	mongoDB      *mongo.Database
	pgPool       *pgxpool.Pool

	pingers []handlers.Pinger
	closers []func()
}

// openStores connects the reservation store chosen by STORE_BACKEND and,
// when needed, the Postgres pool shared with the lock backend.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.UsesPostgres() {
		pool, err := pgstore.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		b.pgPool = pool
		b.pingers = append(b.pingers, pgstore.Pinger{Pool: pool})
		b.closers = append(b.closers, pool.Close)
		log.Info().Msg("postgres connected")
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		b.reservations = pgstore.NewReservationRepository(b.pgPool)
		b.users = pgstore.NewUserRepository(b.pgPool)
		b.events = pgstore.NewEventRepository(b.pgPool)
	default:
		client, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
		b.pingers = append(b.pingers, mongostore.Pinger{Client: client})
		b.mongoDB = db
		b.reservations = mongostore.NewReservationRepository(db)
		b.users = mongostore.NewUserRepository(db)
		b.events = mongostore.NewEventRepository(db)
		log.Info().Str("database", cfg.Mongo.Database).Msg("mongo connected")
	}
	return b, nil
}

// migrate applies the Postgres schema or the Mongo indexes, whichever
// store is in use.
func (b *backends) migrate(ctx context.Context) error {
	if b.pgPool != nil {
		if err := pgstore.Migrate(ctx, b.pgPool); err != nil {
			return err
		}
	}
	if b.mongoDB != nil {
		if err := mongostore.EnsureIndexes(ctx, b.mongoDB); err != nil {
			return err
		}
	}
	return nil
}

// openBackends connects everything the server needs: the store, redis
// and the provider lock.
func openBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backends, error) {
	b, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	if err != nil {
		b.close()
		return nil, err
	}
	b.redis = rdb
	b.pingers = append(b.pingers, redisstore.Pinger{Client: rdb})
	b.closers = append(b.closers, func() { _ = rdb.Close() })
	log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")

	switch cfg.LockBackend {
	case config.BackendLocal:
		b.locker = lock.NewLocal()
	case config.BackendPostgres:
		b.locker = pgstore.NewAdvisoryLocker(b.pgPool)
	case config.BackendRedis:
		b.locker = redisstore.NewProviderLock(rdb, cfg.LockTTL)
	default:
		b.close()
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
	log.Info().Str("store", cfg.StoreBackend).Str("lock", cfg.LockBackend).Msg("backends ready")
	return b, nil
}

// close releases connections in reverse order of opening.
func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}
