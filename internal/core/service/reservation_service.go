package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
	"github.com/99minutos/reservation-system/internal/pkg/metrics"
)

// ReservationDeps groups the collaborators of ReservationService.
// Idempotency, Events and History are optional.
type ReservationDeps struct {
	Reservations ports.ReservationRepository
	Users        ports.UserRepository
	Locker       ports.ProviderLocker
	Idempotency  ports.IdempotencyStore
	Events       ports.EventPublisher
	History      ports.EventRepository
	Clock        ports.Clock
	NewID        func() string
}

type ReservationService struct {
	repo    ports.ReservationRepository
	users   ports.UserRepository
	checker *ConflictChecker
	locker  ports.ProviderLocker
	idem    ports.IdempotencyStore
	events  ports.EventPublisher
	history ports.EventRepository
	clock   ports.Clock
	newID   func() string
	logger  zerolog.Logger
}

var _ ports.ReservationService = (*ReservationService)(nil)

func NewReservationService(deps ReservationDeps, logger zerolog.Logger) *ReservationService {
	s := &ReservationService{
		repo:    deps.Reservations,
		users:   deps.Users,
		checker: NewConflictChecker(deps.Reservations),
		locker:  deps.Locker,
		idem:    deps.Idempotency,
		events:  deps.Events,
		history: deps.History,
		clock:   deps.Clock,
		newID:   deps.NewID,
		logger:  logger,
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Create books a pending reservation for the caller with the given provider.
// The conflict check and the insert run under the provider lock, so two
// overlapping requests for the same provider cannot both succeed.
func (s *ReservationService) Create(ctx context.Context, input ports.CreateReservationInput, caller domain.Identity) (*ports.CreateResult, error) {
	if err := domain.CanCreate(caller); err != nil {
		return nil, err
	}

	start, err := parseStart(input.Start)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateSchedule(start, input.DurationMinutes); err != nil {
		return nil, err
	}
	if err := domain.ValidateNote(input.Note); err != nil {
		return nil, err
	}
	if err := s.checkParties(ctx, input.ProviderID, caller.UserID); err != nil {
		return nil, err
	}

	idemKey := ""
	if input.IdempotencyKey != "" && s.idem != nil {
		idemKey = caller.UserID + ":" + input.IdempotencyKey
		if existing := s.replay(ctx, idemKey, caller.UserID); existing != nil {
			return &ports.CreateResult{Reservation: existing, AlreadyExisted: true}, nil
		}
	}

	now := s.clock.Now().UTC()
	reservation := &domain.Reservation{
		ID:         s.newID(),
		ProviderID: input.ProviderID,
		ClientID:   caller.UserID,
		Status:     domain.StatusPending,
		Note:       input.Note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	reservation.Reschedule(start, input.DurationMinutes)

	var replayed *domain.Reservation
	err = s.withProviderLock(ctx, input.ProviderID, func(lease context.Context) error {
		// A retry that raced the original request waits here and sees its key.
		if idemKey != "" {
			if replayed = s.replay(lease, idemKey, caller.UserID); replayed != nil {
				return nil
			}
		}
		if err := s.ensureFree(lease, reservation, "", "create"); err != nil {
			return err
		}
		if err := s.repo.Create(lease, reservation); err != nil {
			return storageErr("create reservation", err)
		}
		if idemKey != "" {
			if err := s.idem.Remember(lease, idemKey, reservation.ID); err != nil {
				s.logger.Warn().Err(err).Str("reservation_id", reservation.ID).Msg("failed to store idempotency key")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		return &ports.CreateResult{Reservation: replayed, AlreadyExisted: true}, nil
	}

	metrics.ReservationsCreatedTotal.Inc()
	s.publish(domain.EventReservationCreated, reservation, caller.UserID)
	s.logger.Info().
		Str("reservation_id", reservation.ID).
		Str("provider_id", reservation.ProviderID).
		Str("client_id", reservation.ClientID).
		Time("start", reservation.Start).
		Int("duration_minutes", reservation.DurationMinutes).
		Msg("reservation created")

	return &ports.CreateResult{Reservation: reservation}, nil
}

// List returns the reservations visible to caller, ordered by start then id.
func (s *ReservationService) List(ctx context.Context, input ports.ListReservationsInput, caller domain.Identity) ([]domain.Reservation, error) {
	var (
		scope domain.ReservationScope
		err   error
	)
	if input.As != "" {
		role, perr := domain.ParseRole(input.As)
		if perr != nil {
			return nil, perr
		}
		scope, err = domain.NarrowScope(caller, role)
	} else {
		scope, err = domain.ListScope(caller)
	}
	if err != nil {
		return nil, err
	}

	filter := ports.ListReservationsFilter{Scope: scope}
	if input.Status != "" {
		status, err := domain.ParseStatus(input.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}

	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storageErr("list reservations", err)
	}
	sortReservations(items)
	return items, nil
}

// Get returns one reservation if caller is a party to it or an admin.
func (s *ReservationService) Get(ctx context.Context, id string, caller domain.Identity) (*domain.Reservation, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.CanRead(caller, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Update applies a partial change. Schedule and note edits require a
// pending reservation; a status field is routed through the same rules as
// Decide and Cancel.
func (s *ReservationService) Update(ctx context.Context, id string, input ports.UpdateReservationInput, caller domain.Identity) (*domain.Reservation, error) {
	editsSchedule := input.Start != nil || input.DurationMinutes != nil
	editsNote := input.Note != nil
	var next *domain.Status
	if input.Status != nil {
		status, err := domain.ParseStatus(*input.Status)
		if err != nil {
			return nil, err
		}
		next = &status
	}
	if !editsSchedule && !editsNote && next == nil {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrValidation)
	}

	var (
		rescheduled bool
		noteChanged bool
		previous    domain.Status
	)
	updated, err := s.mutate(ctx, id, func(lease context.Context, r *domain.Reservation) error {
		previous = r.Status
		// Restating the current pending status alongside edits is a no-op.
		if next != nil && *next == domain.StatusPending && r.Status == domain.StatusPending && (editsSchedule || editsNote) {
			next = nil
		}

		if editsSchedule || editsNote {
			if err := domain.CanEdit(caller, r); err != nil {
				return err
			}
			if !r.CanEditSchedule() {
				return fmt.Errorf("%w: reservation is %s", domain.ErrNotPending, r.Status)
			}
		}
		if next != nil {
			if err := domain.CanChangeStatus(caller, r, *next); err != nil {
				return err
			}
		}

		start, minutes := r.Start, r.DurationMinutes
		if input.Start != nil {
			parsed, err := parseStart(*input.Start)
			if err != nil {
				return err
			}
			start = parsed
		}
		if input.DurationMinutes != nil {
			minutes = *input.DurationMinutes
		}
		if editsSchedule {
			if err := domain.ValidateSchedule(start, minutes); err != nil {
				return err
			}
		}
		if editsNote {
			if err := domain.ValidateNote(*input.Note); err != nil {
				return err
			}
			noteChanged = *input.Note != r.Note
			r.Note = *input.Note
		}
		if next != nil {
			if err := r.TransitionTo(*next); err != nil {
				return err
			}
		}

		rescheduled = !start.Equal(r.Start) || minutes != r.DurationMinutes
		r.Reschedule(start, minutes)
		if rescheduled && r.Status.IsActive() {
			return s.ensureFree(lease, r, r.ID, "reschedule")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rescheduled {
		s.publish(domain.EventReservationRescheduled, updated, caller.UserID)
	}
	if noteChanged {
		s.publish(domain.EventReservationUpdated, updated, caller.UserID)
	}
	if updated.Status != previous {
		metrics.TransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
		s.publish(domain.EventForTransition(updated.Status), updated, caller.UserID)
	}

	s.logger.Info().
		Str("reservation_id", updated.ID).
		Str("actor_id", caller.UserID).
		Bool("rescheduled", rescheduled).
		Str("status", string(updated.Status)).
		Msg("reservation updated")
	return updated, nil
}

// Decide accepts or rejects a pending reservation on behalf of its provider.
func (s *ReservationService) Decide(ctx context.Context, id string, decision domain.Status, caller domain.Identity) (*domain.Reservation, error) {
	if decision != domain.StatusAccepted && decision != domain.StatusRejected {
		return nil, fmt.Errorf("%w: decision must be accepted or rejected", domain.ErrValidation)
	}
	return s.transition(ctx, id, decision, caller, domain.CanDecide)
}

// Cancel withdraws a pending or accepted reservation. The record is kept.
func (s *ReservationService) Cancel(ctx context.Context, id string, caller domain.Identity) (*domain.Reservation, error) {
	return s.transition(ctx, id, domain.StatusCancelled, caller, domain.CanCancel)
}

// Delete removes a reservation outright. Admin only.
func (s *ReservationService) Delete(ctx context.Context, id string, caller domain.Identity) error {
	if err := domain.CanHardDelete(caller); err != nil {
		return err
	}

	var deleted domain.Reservation
	err := s.locked(ctx, id, func(lease context.Context, r *domain.Reservation) error {
		deleted = *r
		if err := s.repo.Delete(lease, r.ID); err != nil {
			return storageErr("delete reservation", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(domain.EventReservationDeleted, &deleted, caller.UserID)
	s.logger.Info().Str("reservation_id", id).Str("actor_id", caller.UserID).Msg("reservation deleted")
	return nil
}

// History returns the recorded lifecycle events of a reservation.
func (s *ReservationService) History(ctx context.Context, id string, caller domain.Identity) ([]domain.ReservationEvent, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.CanRead(caller, r); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.ReservationEvent{}, nil
	}
	events, err := s.history.ListByReservation(ctx, id)
	if err != nil {
		return nil, storageErr("list reservation events", err)
	}
	return events, nil
}

func (s *ReservationService) transition(
	ctx context.Context,
	id string,
	next domain.Status,
	caller domain.Identity,
	allowed func(domain.Identity, *domain.Reservation) error,
) (*domain.Reservation, error) {
	updated, err := s.mutate(ctx, id, func(_ context.Context, r *domain.Reservation) error {
		if err := allowed(caller, r); err != nil {
			return err
		}
		return r.TransitionTo(next)
	})
	if err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(next)).Inc()
	s.publish(domain.EventForTransition(next), updated, caller.UserID)
	s.logger.Info().
		Str("reservation_id", updated.ID).
		Str("actor_id", caller.UserID).
		Str("status", string(next)).
		Msg("reservation status changed")
	return updated, nil
}

// mutate re-reads the reservation under its provider lock, applies apply to
// a copy and persists the result.
func (s *ReservationService) mutate(ctx context.Context, id string, apply func(context.Context, *domain.Reservation) error) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := s.locked(ctx, id, func(lease context.Context, r *domain.Reservation) error {
		if err := apply(lease, r); err != nil {
			return err
		}
		r.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(lease, r); err != nil {
			return storageErr("update reservation", err)
		}
		out = r
		return nil
	})
	return out, err
}

// locked runs fn with the freshest copy of the reservation while its
// provider lock is held. ProviderID never changes, so the lock taken from
// the first read guards the second.
func (s *ReservationService) locked(ctx context.Context, id string, fn func(context.Context, *domain.Reservation) error) error {
	first, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return s.withProviderLock(ctx, first.ProviderID, func(lease context.Context) error {
		current, err := s.load(lease, id)
		if err != nil {
			return err
		}
		return fn(lease, current)
	})
}

// withProviderLock runs fn while the provider lock is held. fn must do all
// of its I/O with the lease it is given: once the lock can no longer be
// guaranteed the lease is cancelled and pending writes abort.
func (s *ReservationService) withProviderLock(ctx context.Context, providerID string, fn func(lease context.Context) error) error {
	began := time.Now()
	lease, unlock, err := s.locker.Lock(ctx, providerID)
	metrics.ProviderLockWait.Observe(time.Since(began).Seconds())
	if err != nil {
		return storageErr("acquire provider lock", err)
	}
	defer unlock()

	err = fn(lease)
	if err != nil && lease.Err() != nil && ctx.Err() == nil {
		s.logger.Error().Err(context.Cause(lease)).Str("provider_id", providerID).Msg("provider lock lost mid-write")
		return storageErr("provider lock lost", context.Cause(lease))
	}
	return err
}

// ensureFree fails with a *domain.ConflictError when r's interval overlaps
// another active reservation of the same provider.
func (s *ReservationService) ensureFree(ctx context.Context, r *domain.Reservation, excludeID, operation string) error {
	conflicts, err := s.checker.FindConflicts(ctx, r.ProviderID, r.Interval(), excludeID)
	if err != nil {
		return storageErr("check availability", err)
	}
	if len(conflicts) == 0 {
		return nil
	}
	metrics.BookingConflictsTotal.WithLabelValues(operation).Inc()
	s.logger.Info().
		Str("provider_id", r.ProviderID).
		Time("start", r.Start).
		Int("conflicts", len(conflicts)).
		Msg("booking conflict")
	return &domain.ConflictError{
		ProviderID: r.ProviderID,
		Requested:  r.Interval(),
		Conflicts:  conflicts,
	}
}

// checkParties verifies the provider exists with the provider role and is
// not the client.
func (s *ReservationService) checkParties(ctx context.Context, providerID, clientID string) error {
	if strings.TrimSpace(providerID) == "" {
		return fmt.Errorf("%w: provider_id is required", domain.ErrValidation)
	}
	if providerID == clientID {
		return fmt.Errorf("%w: provider and client must be different users", domain.ErrValidation)
	}

	provider, err := s.users.FindByID(ctx, providerID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("%w: provider %s does not exist", domain.ErrValidation, providerID)
	}
	if err != nil {
		return storageErr("find provider", err)
	}
	if !provider.Roles.Has(domain.RoleProvider) {
		return fmt.Errorf("%w: user %s is not a provider", domain.ErrValidation, providerID)
	}

	if _, err := s.users.FindByID(ctx, clientID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("%w: client %s does not exist", domain.ErrValidation, clientID)
		}
		return storageErr("find client", err)
	}
	return nil
}

// replay returns the reservation an earlier request with the same key
// created, or nil. Lookup failures fall through to a normal create.
func (s *ReservationService) replay(ctx context.Context, key, clientID string) *domain.Reservation {
	id, err := s.idem.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("idempotency lookup failed, creating anyway")
		return nil
	}
	if id == "" {
		return nil
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil || existing.ClientID != clientID {
		return nil
	}
	s.logger.Info().Str("reservation_id", id).Msg("idempotent replay")
	return existing
}

func (s *ReservationService) load(ctx context.Context, id string) (*domain.Reservation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: reservation id is required", domain.ErrValidation)
	}
	r, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr("find reservation", err)
	}
	return r, nil
}

func (s *ReservationService) publish(kind domain.EventType, r *domain.Reservation, actorID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.ReservationEvent{
		ID:              s.newID(),
		Type:            kind,
		ReservationID:   r.ID,
		ProviderID:      r.ProviderID,
		ClientID:        r.ClientID,
		ActorID:         actorID,
		Status:          r.Status,
		Start:           r.Start,
		DurationMinutes: r.DurationMinutes,
		OccurredAt:      s.clock.Now().UTC(),
	})
}

// parseStart accepts RFC 3339 timestamps and normalises them to UTC.
func parseStart(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("%w: start is required", domain.ErrValidation)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start must be an RFC 3339 timestamp", domain.ErrValidation)
	}
	return t.UTC(), nil
}

func sortReservations(items []domain.Reservation) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Start.Equal(items[j].Start) {
			return items[i].Start.Before(items[j].Start)
		}
		return items[i].ID < items[j].ID
	})
}

// storageErr keeps categorised errors intact and files everything else
// under domain.ErrStorage.
func storageErr(op string, err error) error {
	if domain.IsKnown(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}
