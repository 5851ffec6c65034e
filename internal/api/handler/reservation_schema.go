package handler

import "time"

// errorResponse is the standard error envelope returned on all 4xx/5xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

// --- Request types ---

type createReservationRequest struct {
	ProviderID      string `json:"provider_id"      validate:"required"`
	Start           string `json:"start"            validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0"`
	Note            string `json:"note"             validate:"max=1000"`
}

// updateReservationRequest is a partial update: absent fields are left as is.
type updateReservationRequest struct {
	Start           *string `json:"start"`
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,gt=0"`
	Note            *string `json:"note"             validate:"omitempty,max=1000"`
	Status          *string `json:"status"           validate:"omitempty,oneof=pending accepted rejected cancelled"`
}

type listReservationsQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=pending accepted rejected cancelled"`
	As     string `query:"as"     validate:"omitempty,oneof=client provider cleaner"`
}

// --- Response types ---
// Owned by the transport layer so the JSON contract does not follow
// internal changes.

type reservationLinks struct {
	Self   string `json:"self"`
	Events string `json:"events"`
}

type reservationResponse struct {
	ID              string           `json:"id"`
	ProviderID      string           `json:"provider_id"`
	ClientID        string           `json:"client_id"`
	Start           time.Time        `json:"start"`
	End             time.Time        `json:"end"`
	DurationMinutes int              `json:"duration_minutes"`
	Status          string           `json:"status"`
	Note            string           `json:"note,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Links           reservationLinks `json:"_links"`
}

type reservationListResponse struct {
	Data  []reservationResponse `json:"data"`
	Count int                   `json:"count"`
}

type reservationEventResponse struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	ActorID         string    `json:"actor_id"`
	Status          string    `json:"status"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type reservationEventListResponse struct {
	ReservationID string                     `json:"reservation_id"`
	Data          []reservationEventResponse `json:"data"`
}
