package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Scheduler   *scheduling.Scheduler
	Allocator   *scheduling.Allocator
	Waitlist    *scheduling.Waitlist
	ViewBuilder *scheduling.ViewBuilder
	Repo        scheduling.Repository
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Log         zerolog.Logger
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(cfg.Scheduler))
	r.Get("/appointments", listAppointmentsHandler(cfg.Repo))
	r.Post("/appointments/recurring", createRecurringHandler(cfg.Scheduler))
	r.Get("/appointments/series/{id}", getSeriesHandler(cfg.Repo))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Repo))
	r.Put("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Scheduler))
	r.Put("/appointments/{id}/status", updateStatusHandler(cfg.Scheduler))

	// Provider availability endpoints
	r.Get("/providers/{id}/slots", listSlotsHandler(cfg.Allocator))
	r.Post("/providers/{id}/template", createTemplateBlockHandler(cfg.Repo))
	r.Post("/providers/{id}/exceptions", createExceptionHandler(cfg.Repo))

	// Patient endpoints
	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Repo))

	// Calendar endpoint
	r.Get("/calendar", calendarHandler(cfg.ViewBuilder))

	// Waiting list endpoints
	r.Post("/waiting-list", addWaitingListHandler(cfg.Waitlist))
	r.Post("/waiting-list/{id}/confirm", confirmOfferHandler(cfg.Waitlist, cfg.Scheduler, cfg.Repo))

	return r
}
