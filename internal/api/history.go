/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/models"
)

// parseHistoryFilter reads fiscal, date, from, to, line and status query
// parameters. It returns an error code when a parameter is malformed.
func parseHistoryFilter(r *http.Request) (departures.Filter, string) {
	q := r.URL.Query()
	f := departures.Filter{
		Fiscal:   q.Get("fiscal"),
		WorkDate: q.Get("date"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Line:     q.Get("line"),
	}
	for _, d := range []string{f.WorkDate, f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.WorkDateLayout, d); err != nil {
			return f, "invalid_date"
		}
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return f, "invalid_date_range"
	}
	status, err := departures.ParseStatus(q.Get("status"))
	if err != nil {
		return f, "invalid_status"
	}
	f.Status = status
	return f, ""
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, code := parseHistoryFilter(r)
	if code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	rows, err := a.store.Query(r.Context(), f)
	if err != nil {
		a.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"departures": a.departureResponses(rows),
		"total":      len(rows),
	})
}

func (a *API) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	f, code := parseHistoryFilter(r)
	if code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	stats, err := a.store.Stats(r.Context(), f)
	if err != nil {
		a.logger.Error().Err(err).Msg("history stats failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
