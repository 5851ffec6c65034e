package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
	"github.com/99minutos/reservation-system/internal/pkg/metrics"
)

// DedupChecker abstracts the idempotency store (Redis).
type DedupChecker interface {
	IsDuplicate(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type eventService struct {
	eventRepo ports.EventRepository
	dedup     DedupChecker
	sink      ports.EventSink
	log       zerolog.Logger
}

// NewEventService returns an EventService implementation. dedup and sink
// may be nil.
func NewEventService(
	eventRepo ports.EventRepository,
	dedup DedupChecker,
	sink ports.EventSink,
	log zerolog.Logger,
) ports.EventService {
	return &eventService{
		eventRepo: eventRepo,
		dedup:     dedup,
		sink:      sink,
		log:       log,
	}
}

// Process deduplicates a lifecycle event, appends it to the audit trail and
// forwards it to the sink.
func (s *eventService) Process(ctx context.Context, event domain.ReservationEvent) error {
	began := time.Now()
	defer func() {
		metrics.EventProcessingDuration.WithLabelValues(string(event.Type)).Observe(time.Since(began).Seconds())
	}()

	// 1. Idempotency check: silently skip duplicates.
	if s.dedup != nil {
		isDup, err := s.dedup.IsDuplicate(ctx, event.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("event_id", event.ID).Msg("dedup check failed, processing anyway")
		} else if isDup {
			metrics.EventsDedupTotal.WithLabelValues("hit").Inc()
			s.log.Debug().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("duplicate event skipped")
			return nil
		}
		metrics.EventsDedupTotal.WithLabelValues("miss").Inc()

		// 2. Mark before writing so a redelivery is not recorded twice.
		if err := s.dedup.Mark(ctx, event.ID); err != nil {
			s.log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to set dedup key")
		}
	}

	// 3. Audit trail.
	if err := s.eventRepo.InsertEvent(ctx, &event); err != nil {
		metrics.EventsErrorsTotal.WithLabelValues("audit_insert").Inc()
		return fmt.Errorf("process event: insert audit event: %w", err)
	}

	// 4. External sink (non-fatal on failure).
	if s.sink != nil {
		if err := s.sink.Send(ctx, event); err != nil {
			metrics.EventsErrorsTotal.WithLabelValues("sink_send").Inc()
			s.log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to forward event")
		}
	}

	metrics.EventsProcessedTotal.WithLabelValues(string(event.Type)).Inc()
	s.log.Info().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("reservation_id", event.ReservationID).
		Msg("event processed")

	return nil
}
