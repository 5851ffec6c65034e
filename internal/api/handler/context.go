package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/reservation-system/internal/api/middleware"
	"github.com/99minutos/reservation-system/internal/core/domain"
)

// ctxIdentity extracts the caller injected by the Auth middleware and
// fails fast with 401 when the route was wired without it.
func ctxIdentity(c echo.Context) (domain.Identity, error) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return identity, nil
}
