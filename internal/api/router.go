package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/99minutos/reservation-system/docs"
	"github.com/99minutos/reservation-system/internal/api/handler"
	"github.com/99minutos/reservation-system/internal/api/middleware"
	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
	"github.com/99minutos/reservation-system/internal/infrastructure/http/handlers"
)

// RouterDeps carries everything the HTTP layer needs.
type RouterDeps struct {
	Reservations ports.ReservationService
	JWTSecret    string
	Logger       zerolog.Logger
	// Dependencies are checked by the readiness endpoint.
	Dependencies []handlers.Pinger
	// Registerer and Gatherer default to the prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter builds and returns the Echo instance with all routes registered.
//
// @title                       Reservation System API
// @version                     1.0
// @description                 Provider booking with conflict detection and an accept/reject lifecycle.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func NewRouter(deps RouterDeps) *echo.Echo {
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Logger)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(deps.Logger))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "http",
		Registerer: deps.Registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	// --- Operational endpoints (no auth required) ---
	healthHandler := handlers.NewHealthHandler()
	healthDepsHandler := handlers.NewHealthDependenciesHandler(deps.Dependencies...)

	e.GET("/health", healthHandler.Liveness)            // process alive
	e.GET("/health/ready", healthDepsHandler.Readiness) // backends reachable
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: deps.Gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Reservations ---
	reservations := handler.NewReservationHandler(deps.Reservations)

	v1 := e.Group("/v1", middleware.Auth(deps.JWTSecret))

	r := v1.Group("/reservations")
	r.POST("", reservations.Create)
	r.GET("", reservations.List)
	r.GET("/provider", reservations.ListAsProvider)
	r.GET("/client", reservations.ListAsClient)
	r.GET("/:id", reservations.Get)
	r.GET("/:id/events", reservations.History)
	r.PATCH("/:id", reservations.Update)
	r.POST("/:id/accept", reservations.Accept)
	r.POST("/:id/reject", reservations.Reject)
	r.DELETE("/:id", reservations.Cancel)

	admin := v1.Group("/admin", middleware.RBAC(domain.RoleAdmin))
	admin.DELETE("/reservations/:id", reservations.AdminDelete)

	return e
}
