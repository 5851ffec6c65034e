package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/99minutos/reservation-system/internal/api"
	"github.com/99minutos/reservation-system/internal/core/ports"
	"github.com/99minutos/reservation-system/internal/core/service"
	"github.com/99minutos/reservation-system/internal/infrastructure/config"
	redisstore "github.com/99minutos/reservation-system/internal/infrastructure/db/redis"
	"github.com/99minutos/reservation-system/internal/infrastructure/kafka"
	"github.com/99minutos/reservation-system/internal/infrastructure/queue"
	"github.com/99minutos/reservation-system/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func newServerCmd() *cobra.Command {
	var (
		migrateUp      bool
		provisionAdmin bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API and the event workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to serve the API")
			}
			log := initLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackends(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.close()

			if migrateUp {
				if err := b.migrate(ctx); err != nil {
					return err
				}
			}
			if provisionAdmin {
				// A failed provisioning is reported but does not keep the API down.
				prov := service.NewProvisioningService(b.users, cfg.JWTSecret, 0, logger.Component("provisioning"))
				if _, _, err := prov.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
					log.Error().Err(err).Msg("admin provisioning failed")
				}
			}

			// --- Lifecycle events ---
			var sink ports.EventSink
			var producer *kafka.Producer
			if len(cfg.Kafka.Brokers) > 0 {
				producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
				sink = producer
				log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka sink enabled")
			}
			eventService := service.NewEventService(b.events, redisstore.NewDedupChecker(b.redis), sink, logger.Component("events"))
			dispatcher := queue.NewDispatcher(cfg.EventWorkers, eventService, logger.Component("dispatcher"))
			workerCtx, cancelWorkers := context.WithCancel(context.Background())
			defer cancelWorkers()
			dispatcher.Start(workerCtx)

			reservations := service.NewReservationService(service.ReservationDeps{
				Reservations: b.reservations,
				Users:        b.users,
				Locker:       b.locker,
				Idempotency:  redisstore.NewIdempotencyStore(b.redis),
				Events:       dispatcher,
				History:      b.events,
			}, logger.Component("reservations"))

			e := api.NewRouter(api.RouterDeps{
				Reservations: reservations,
				JWTSecret:    cfg.JWTSecret,
				Logger:       logger.Component("http"),
				Dependencies: b.pingers,
			})

			srv := &http.Server{
				Addr:              net.JoinHostPort("", cfg.Port),
				Handler:           e,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("http shutdown")
			}

			// Requests are drained; flush queued events before closing sinks.
			dispatcher.Close()
			if producer != nil {
				if err := producer.Close(); err != nil {
					log.Error().Err(err).Msg("kafka producer close")
				}
			}
			log.Info().Msg("stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "apply the schema / indexes on startup")
	cmd.Flags().BoolVar(&provisionAdmin, "provision-admin", false, "ensure ADMIN_EMAIL holds the admin role before serving")
	return cmd
}
