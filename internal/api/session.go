/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
)

type sessionRequest struct {
	Fiscal string `json:"fiscal"`
	Date   string `json:"date"`
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.scheduler.Session()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "session": sess})
}

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	sess, err := a.scheduler.Open(r.Context(), req.Fiscal, req.Date)
	if err != nil {
		a.writeSchedulerError(w, err, "open_session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "session": sess})
}

func (a *API) handleSessionFinalize(w http.ResponseWriter, r *http.Request) {
	res, err := a.scheduler.Finalize(r.Context())
	if err != nil {
		a.writeSchedulerError(w, err, "finalize_session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":      res.Session,
		"record_count": res.RecordCount,
		"records":      a.departureResponses(res.Records),
	})
}
