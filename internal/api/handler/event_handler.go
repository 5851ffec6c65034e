package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// History handles GET /v1/reservations/:id/events.
//
// @Summary      Audit trail of a reservation
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  reservationEventListResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /v1/reservations/{id}/events [get]
func (h *ReservationHandler) History(c echo.Context) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	events, err := h.service.History(c.Request().Context(), id, caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toEventList(id, events))
}
