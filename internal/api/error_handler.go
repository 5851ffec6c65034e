package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/reservation-system/internal/core/domain"
)

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error     string             `json:"error"`
	Conflicts []conflictResponse `json:"conflicts,omitempty"`
}

// conflictResponse describes an active reservation blocking a booking.
type conflictResponse struct {
	ID     string    `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Status string    `json:"status"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps known domain errors to their appropriate HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := resolveError(err, log, c)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, errorResponse) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorResponse{Error: fmt.Sprintf("%v", he.Message)}
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "access forbidden"}
	case errors.Is(err, domain.ErrReservationNotFound):
		return http.StatusNotFound, errorResponse{Error: "reservation not found"}
	case errors.Is(err, domain.ErrBookingConflict):
		return http.StatusConflict, conflictBody(err)
	case domain.IsStateError(err):
		return http.StatusUnprocessableEntity, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrStorage):
		log.Warn().
			Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("storage unavailable")
		c.Response().Header().Set("Retry-After", "1")
		return http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable, retry later"}
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
}

// conflictBody lists the blocking reservations when the service reported them.
// A conflict detected by a storage constraint carries none.
func conflictBody(err error) errorResponse {
	body := errorResponse{Error: domain.ErrBookingConflict.Error()}
	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		return body
	}
	for _, r := range ce.Conflicts {
		body.Conflicts = append(body.Conflicts, conflictResponse{
			ID:     r.ID,
			Start:  r.Start.UTC(),
			End:    r.End.UTC(),
			Status: string(r.Status),
		})
	}
	return body
}
