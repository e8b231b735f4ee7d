/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/prancheta/internal/logbuffer"
)

// SetLogBuffer exposes recent process logs at /api/v1/logs. It must be
// called before Routes.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logs = buf
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Line:       q.Get("line"),
		Search:     q.Get("search"),
		Limit:      200,
		Descending: true,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 1000 {
		params.Limit = v
	}
	if v, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		params.Since = v
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  a.logs.Query(params),
		"stats": a.logs.Stats(),
	})
}
