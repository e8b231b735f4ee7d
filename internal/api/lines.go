/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

type intervalRequest struct {
	Minutes json.Number `json:"minutes"`
}

// minutes returns the requested interval, or ok=false when it is missing or
// not a whole number.
func (r intervalRequest) minutes() (int, bool) {
	n, err := strconv.Atoi(r.Minutes.String())
	return n, err == nil
}

func (a *API) handleLinesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"lines":                   a.scheduler.Lines(),
		"global_interval_minutes": a.scheduler.GlobalInterval(),
	})
}

func (a *API) handleLineIntervalGet(w http.ResponseWriter, r *http.Request) {
	line := chi.URLParam(r, "line")
	writeJSON(w, http.StatusOK, map[string]any{
		"line":             line,
		"interval_minutes": a.scheduler.Interval(line),
	})
}

func (a *API) handleLineIntervalSet(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	minutes, ok := req.minutes()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_interval")
		return
	}

	change, err := a.scheduler.SetInterval(r.Context(), chi.URLParam(r, "line"), minutes)
	if err != nil {
		a.writeSchedulerError(w, err, "set_interval")
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (a *API) handleGlobalIntervalSet(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	minutes, ok := req.minutes()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_interval")
		return
	}

	change, err := a.scheduler.SetGlobalInterval(r.Context(), minutes)
	if err != nil {
		a.writeSchedulerError(w, err, "set_global_interval")
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// handleRecalculate respaces one line when ?line= is given, otherwise every
// pending departure with the global interval.
func (a *API) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	line := strings.TrimSpace(r.URL.Query().Get("line"))

	var (
		n   int
		err error
	)
	kind := "global"
	if line != "" {
		kind = "line"
		n, err = a.scheduler.RecalculateLine(r.Context(), line)
	} else {
		n, err = a.scheduler.RecalculateAll(r.Context())
	}
	if err != nil {
		a.writeSchedulerError(w, err, "recalculate")
		return
	}

	resp := map[string]any{"kind": kind, "records_updated": n}
	if line != "" {
		resp["line"] = line
	}
	writeJSON(w, http.StatusOK, resp)
}
