/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/prancheta/internal/audit"
	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/logbuffer"
	"github.com/friendsincode/prancheta/internal/models"
	"github.com/friendsincode/prancheta/internal/scheduler"
)

// Reader is the read side of the departure store.
type Reader interface {
	Get(ctx context.Context, id uint64) (*models.Departure, error)
	ListScope(ctx context.Context, scope models.Scope) ([]models.Departure, error)
	Query(ctx context.Context, f departures.Filter) ([]models.Departure, error)
	Stats(ctx context.Context, f departures.Filter) (departures.Stats, error)
}

// API exposes HTTP handlers.
type API struct {
	scheduler *scheduler.Service
	store     Reader
	auditSvc  *audit.Service
	logs      *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper. auditSvc may be nil, in which case the
// audit endpoint is not mounted.
func New(svc *scheduler.Service, store Reader, auditSvc *audit.Service, logger zerolog.Logger) *API {
	return &API{
		scheduler: svc,
		store:     store,
		auditSvc:  auditSvc,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers API routes on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", a.handleSessionGet)
			r.Post("/", a.handleSessionOpen)
			r.Post("/finalize", a.handleSessionFinalize)
		})

		r.Route("/lines", func(r chi.Router) {
			r.Get("/", a.handleLinesList)
			r.Get("/{line}/interval", a.handleLineIntervalGet)
			r.Put("/{line}/interval", a.handleLineIntervalSet)
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Put("/global-interval", a.handleGlobalIntervalSet)
			r.Post("/recalculate", a.handleRecalculate)
		})

		r.Route("/departures", func(r chi.Router) {
			r.Get("/", a.handleDeparturesList)
			r.Post("/", a.handleDepartureRegister)
			r.Get("/next", a.handleDepartureNext)
			r.Post("/confirmations/reset", a.handleConfirmationsReset)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleDepartureGet)
				r.Patch("/", a.handleDepartureEdit)
				r.Delete("/", a.handleDepartureDelete)
				r.Post("/confirm", a.handleDepartureConfirm)
			})
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", a.handleHistory)
			r.Get("/stats", a.handleHistoryStats)
		})

		if a.auditSvc != nil {
			r.Get("/audit", a.handleAuditList)
		}
		if a.logs != nil {
			r.Get("/logs", a.handleLogs)
		}
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"session_active": a.scheduler.IsOpen(),
	})
}

// writeSchedulerError maps scheduler errors to HTTP responses.
func (a *API) writeSchedulerError(w http.ResponseWriter, err error, op string) {
	if scheduler.IsInputError(err) {
		a.logger.Debug().Err(err).Str("operation", op).Msg("request rejected")
	}
	switch {
	case errors.Is(err, scheduler.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "no_active_session")
	case errors.Is(err, scheduler.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval")
	case errors.Is(err, scheduler.ErrUnknownLine):
		writeError(w, http.StatusNotFound, "unknown_line")
	case errors.Is(err, scheduler.ErrInvalidSession):
		writeError(w, http.StatusBadRequest, "invalid_session")
	case errors.Is(err, scheduler.ErrInvalidTime):
		writeError(w, http.StatusBadRequest, "invalid_time")
	case errors.Is(err, scheduler.ErrInvalidDeparture):
		writeError(w, http.StatusBadRequest, "invalid_departure")
	default:
		a.logger.Error().Err(err).Str("operation", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst) == nil
}

func parseID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
