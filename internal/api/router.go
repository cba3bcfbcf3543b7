package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	Logger  *zap.Logger
	Checks  []DependencyCheck
	Env     string
	Version string
	Tracing bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc, logger := cfg.Service, cfg.Logger.Named("api")
	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Get("/employees/{employeeID}/slots", listSlotsHandler(svc, logger))
		r.Post("/availability", checkAvailabilityHandler(svc, logger))
		r.Post("/appointments", createAppointmentHandler(svc, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(svc, logger))
		r.Patch("/appointments/{id}", updateAppointmentHandler(svc, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc, logger))
	})

	if cfg.Tracing {
		return otelhttp.NewHandler(r, "booking-api")
	}
	return r
}
