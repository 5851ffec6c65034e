package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
)

// IdempotencyKeyHeader lets clients retry a create safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReservationHandler handles HTTP requests for reservation operations.
type ReservationHandler struct {
	service ports.ReservationService
}

func NewReservationHandler(service ports.ReservationService) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// Create handles POST /v1/reservations.
//
// @Summary      Book a provider
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header    string                    false  "Replay-safe key"
// @Param        body             body      createReservationRequest  true   "Reservation"
// @Success      201              {object}  reservationResponse
// @Success      200              {object}  reservationResponse  "Replayed create"
// @Failure      400              {object}  errorResponse
// @Failure      401              {object}  errorResponse
// @Failure      403              {object}  errorResponse
// @Failure      409              {object}  errorResponse
// @Failure      503              {object}  errorResponse
// @Router       /v1/reservations [post]
func (h *ReservationHandler) Create(c echo.Context) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	var req createReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result, err := h.service.Create(c.Request().Context(), ports.CreateReservationInput{
		ProviderID:      strings.TrimSpace(req.ProviderID),
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Note:            req.Note,
		IdempotencyKey:  strings.TrimSpace(c.Request().Header.Get(IdempotencyKeyHeader)),
	}, caller)
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if result.AlreadyExisted {
		status = http.StatusOK
	}
	return c.JSON(status, toReservationResponse(result.Reservation))
}

// List handles GET /v1/reservations.
//
// @Summary      List reservations visible to the caller
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "pending, accepted, rejected or cancelled"
// @Param        as      query     string  false  "client or provider"
// @Success      200     {object}  reservationListResponse
// @Failure      400     {object}  errorResponse
// @Failure      401     {object}  errorResponse
// @Failure      403     {object}  errorResponse
// @Router       /v1/reservations [get]
func (h *ReservationHandler) List(c echo.Context) error {
	var q listReservationsQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	return h.list(c, q.Status, q.As)
}

// ListAsProvider handles GET /v1/reservations/provider.
//
// @Summary      List reservations where the caller is the provider
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  reservationListResponse
// @Failure      401  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /v1/reservations/provider [get]
func (h *ReservationHandler) ListAsProvider(c echo.Context) error {
	return h.list(c, c.QueryParam("status"), string(domain.RoleProvider))
}

// ListAsClient handles GET /v1/reservations/client.
//
// @Summary      List reservations booked by the caller
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  reservationListResponse
// @Failure      401  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /v1/reservations/client [get]
func (h *ReservationHandler) ListAsClient(c echo.Context) error {
	return h.list(c, c.QueryParam("status"), string(domain.RoleClient))
}

func (h *ReservationHandler) list(c echo.Context, status, as string) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), ports.ListReservationsInput{
		Status: status,
		As:     as,
	}, caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationList(items))
}

// Get handles GET /v1/reservations/:id.
//
// @Summary      Get a reservation
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  reservationResponse
// @Failure      401  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /v1/reservations/{id} [get]
func (h *ReservationHandler) Get(c echo.Context) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	r, err := h.service.Get(c.Request().Context(), c.Param("id"), caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationResponse(r))
}

// Update handles PATCH /v1/reservations/:id.
//
// @Summary      Reschedule, annotate or change the status of a reservation
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string                    true  "Reservation ID"
// @Param        body  body      updateReservationRequest  true  "Fields to change"
// @Success      200   {object}  reservationResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /v1/reservations/{id} [patch]
func (h *ReservationHandler) Update(c echo.Context) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	var req updateReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	r, err := h.service.Update(c.Request().Context(), c.Param("id"), ports.UpdateReservationInput{
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Note:            req.Note,
		Status:          req.Status,
	}, caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationResponse(r))
}

// Accept handles POST /v1/reservations/:id/accept.
//
// @Summary      Accept a pending reservation
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  reservationResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      422  {object}  errorResponse
// @Router       /v1/reservations/{id}/accept [post]
func (h *ReservationHandler) Accept(c echo.Context) error {
	return h.decide(c, domain.StatusAccepted)
}

// Reject handles POST /v1/reservations/:id/reject.
//
// @Summary      Reject a pending reservation
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  reservationResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      422  {object}  errorResponse
// @Router       /v1/reservations/{id}/reject [post]
func (h *ReservationHandler) Reject(c echo.Context) error {
	return h.decide(c, domain.StatusRejected)
}

func (h *ReservationHandler) decide(c echo.Context, decision domain.Status) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	r, err := h.service.Decide(c.Request().Context(), c.Param("id"), decision, caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationResponse(r))
}

// Cancel handles DELETE /v1/reservations/:id. The record is kept with
// status cancelled.
//
// @Summary      Cancel a reservation
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  reservationResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      422  {object}  errorResponse
// @Router       /v1/reservations/{id} [delete]
func (h *ReservationHandler) Cancel(c echo.Context) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	r, err := h.service.Cancel(c.Request().Context(), c.Param("id"), caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toReservationResponse(r))
}

// AdminDelete handles DELETE /v1/admin/reservations/:id.
//
// @Summary      Permanently delete a reservation
// @Tags         admin
// @Security     BearerAuth
// @Param        id   path  string  true  "Reservation ID"
// @Success      204
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /v1/admin/reservations/{id} [delete]
func (h *ReservationHandler) AdminDelete(c echo.Context) error {
	caller, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), c.Param("id"), caller); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
