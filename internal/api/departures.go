/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/models"
	"github.com/friendsincode/prancheta/internal/scheduler"
)

// departureResponse is the JSON form of a departure.
type departureResponse struct {
	ID          uint64    `json:"id"`
	Fiscal      string    `json:"fiscal"`
	Date        string    `json:"date"`
	Line        string    `json:"line"`
	VehicleID   string    `json:"vehicle"`
	Driver      string    `json:"driver"`
	Time        string    `json:"time"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Confirmed   bool      `json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *API) departureResponse(d models.Departure) departureResponse {
	loc := a.scheduler.Location()
	return departureResponse{
		ID:          d.ID,
		Fiscal:      d.Fiscal,
		Date:        d.WorkDate,
		Line:        d.Line,
		VehicleID:   d.VehicleID,
		Driver:      d.Driver,
		Time:        d.ClockTime(loc),
		ScheduledAt: d.ScheduledAt.In(loc),
		Confirmed:   d.Confirmed,
		CreatedAt:   d.CreatedAt,
	}
}

func (a *API) departureResponses(rows []models.Departure) []departureResponse {
	out := make([]departureResponse, len(rows))
	for i, d := range rows {
		out[i] = a.departureResponse(d)
	}
	return out
}

type slotResponse struct {
	Time     string           `json:"time"`
	Anchor   scheduler.Anchor `json:"anchor"`
	Interval int              `json:"interval_minutes"`
	Fallback bool             `json:"fallback"`
}

func toSlotResponse(s scheduler.Slot) slotResponse {
	return slotResponse{Time: s.Clock(), Anchor: s.Anchor, Interval: s.Interval, Fallback: s.Fallback()}
}

type registerRequest struct {
	Line    string `json:"line"`
	Vehicle string `json:"vehicle"`
	Driver  string `json:"driver"`
	Time    string `json:"time,omitempty"`
}

type editRequest struct {
	Line      *string `json:"line,omitempty"`
	Vehicle   *string `json:"vehicle,omitempty"`
	Driver    *string `json:"driver,omitempty"`
	Time      *string `json:"time,omitempty"`
	Confirmed *bool   `json:"confirmed,omitempty"`
}

func (a *API) handleDeparturesList(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.scheduler.Session()
	if !ok {
		writeError(w, http.StatusConflict, "no_active_session")
		return
	}

	rows, err := a.store.ListScope(r.Context(), sess.Scope())
	if err != nil {
		a.logger.Error().Err(err).Msg("list departures failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    sess,
		"departures": a.departureResponses(rows),
	})
}

func (a *API) handleDepartureNext(w http.ResponseWriter, r *http.Request) {
	line := strings.TrimSpace(r.URL.Query().Get("line"))
	if line == "" {
		writeError(w, http.StatusBadRequest, "line_required")
		return
	}

	slot, err := a.scheduler.NextTime(r.Context(), line)
	if err != nil {
		a.writeSchedulerError(w, err, "next_time")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"line": line, "slot": toSlotResponse(slot)})
}

func (a *API) handleDepartureRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	reg, err := a.scheduler.Register(r.Context(), scheduler.RegisterRequest{
		Line:      req.Line,
		VehicleID: req.Vehicle,
		Driver:    req.Driver,
		Time:      req.Time,
	})
	if err != nil {
		a.writeSchedulerError(w, err, "register")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"departure": a.departureResponse(reg.Departure),
		"slot":      toSlotResponse(reg.Slot),
	})
}

func (a *API) handleDepartureGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	d, err := a.store.Get(r.Context(), id)
	if errors.Is(err, departures.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Uint64("id", id).Msg("get departure failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, a.departureResponse(*d))
}

func (a *API) handleDepartureConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	found, err := a.scheduler.Confirm(r.Context(), id)
	if err != nil {
		a.writeSchedulerError(w, err, "confirm")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "confirmed": true})
}

func (a *API) handleDepartureEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	var req editRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	current, err := a.store.Get(r.Context(), id)
	if errors.Is(err, departures.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Uint64("id", id).Msg("load departure for edit failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	edit := departures.EditRequest{
		Line:      req.Line,
		VehicleID: req.Vehicle,
		Driver:    req.Driver,
		Confirmed: req.Confirmed,
	}
	if req.Time != nil {
		at, err := a.scheduler.ParseClock(current.WorkDate, *req.Time)
		if err != nil {
			a.writeSchedulerError(w, err, "edit")
			return
		}
		edit.ScheduledAt = &at
	}

	found, err := a.scheduler.Edit(r.Context(), id, edit)
	if err != nil {
		a.writeSchedulerError(w, err, "edit")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	updated, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.logger.Error().Err(err).Uint64("id", id).Msg("reload edited departure failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, a.departureResponse(*updated))
}

func (a *API) handleDepartureDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	found, err := a.scheduler.Delete(r.Context(), id)
	if err != nil {
		a.writeSchedulerError(w, err, "delete")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleConfirmationsReset(w http.ResponseWriter, r *http.Request) {
	n, err := a.scheduler.ResetConfirmations(r.Context())
	if err != nil {
		a.writeSchedulerError(w, err, "reset_confirmations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records_reset": n})
}
