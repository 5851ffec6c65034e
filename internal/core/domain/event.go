package domain

import "time"

// EventType names a reservation lifecycle event.
type EventType string

const (
	EventReservationCreated     EventType = "reservation.created"
	EventReservationRescheduled EventType = "reservation.rescheduled"
	EventReservationUpdated     EventType = "reservation.updated"
	EventReservationAccepted    EventType = "reservation.accepted"
	EventReservationRejected    EventType = "reservation.rejected"
	EventReservationCancelled   EventType = "reservation.cancelled"
	EventReservationDeleted     EventType = "reservation.deleted"
)

// ReservationEvent records a change applied to a reservation.
type ReservationEvent struct {
	ID              string    `json:"id" bson:"_id"`
	Type            EventType `json:"type" bson:"type"`
	ReservationID   string    `json:"reservation_id" bson:"reservation_id"`
	ProviderID      string    `json:"provider_id" bson:"provider_id"`
	ClientID        string    `json:"client_id" bson:"client_id"`
	ActorID         string    `json:"actor_id" bson:"actor_id"`
	Status          Status    `json:"status" bson:"status"`
	Start           time.Time `json:"start" bson:"start"`
	DurationMinutes int       `json:"duration_minutes" bson:"duration_minutes"`
	OccurredAt      time.Time `json:"occurred_at" bson:"occurred_at"`
}

// EventForTransition maps a target status to its lifecycle event type.
func EventForTransition(next Status) EventType {
	switch next {
	case StatusAccepted:
		return EventReservationAccepted
	case StatusRejected:
		return EventReservationRejected
	case StatusCancelled:
		return EventReservationCancelled
	default:
		return EventReservationUpdated
	}
}
