package handler

import "github.com/99minutos/reservation-system/internal/core/domain"

func toReservationResponse(r *domain.Reservation) reservationResponse {
	self := "/v1/reservations/" + r.ID
	return reservationResponse{
		ID:              r.ID,
		ProviderID:      r.ProviderID,
		ClientID:        r.ClientID,
		Start:           r.Start.UTC(),
		End:             r.End.UTC(),
		DurationMinutes: r.DurationMinutes,
		Status:          string(r.Status),
		Note:            r.Note,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		Links: reservationLinks{
			Self:   self,
			Events: self + "/events",
		},
	}
}

func toReservationList(items []domain.Reservation) reservationListResponse {
	data := make([]reservationResponse, 0, len(items))
	for i := range items {
		data = append(data, toReservationResponse(&items[i]))
	}
	return reservationListResponse{Data: data, Count: len(data)}
}

func toEventList(reservationID string, events []domain.ReservationEvent) reservationEventListResponse {
	data := make([]reservationEventResponse, 0, len(events))
	for _, e := range events {
		data = append(data, reservationEventResponse{
			ID:              e.ID,
			Type:            string(e.Type),
			ActorID:         e.ActorID,
			Status:          string(e.Status),
			Start:           e.Start.UTC(),
			DurationMinutes: e.DurationMinutes,
			OccurredAt:      e.OccurredAt.UTC(),
		})
	}
	return reservationEventListResponse{ReservationID: reservationID, Data: data}
}
