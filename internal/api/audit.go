/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/prancheta/internal/audit"
	"github.com/friendsincode/prancheta/internal/models"
)

// auditLogResponse is the JSON response for an audit log entry.
type auditLogResponse struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Fiscal       string         `json:"fiscal,omitempty"`
	Date         string         `json:"date,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// handleAuditList returns a page of audit entries, newest first.
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters := parseAuditFilters(r)

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]auditLogResponse, len(logs))
	for i, entry := range logs {
		response[i] = auditLogResponse{
			ID:           entry.ID,
			Timestamp:    entry.Timestamp,
			Fiscal:       entry.Fiscal,
			Date:         entry.WorkDate,
			Action:       string(entry.Action),
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Details:      entry.Details,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": response,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

func parseAuditFilters(r *http.Request) audit.QueryFilters {
	q := r.URL.Query()
	filters := audit.QueryFilters{
		Fiscal:   q.Get("fiscal"),
		WorkDate: q.Get("date"),
		Action:   models.AuditAction(q.Get("action")),
		Limit:    100,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		filters.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filters.Offset = v
	}
	if v, err := time.Parse(time.RFC3339, q.Get("start")); err == nil {
		filters.StartTime = &v
	}
	if v, err := time.Parse(time.RFC3339, q.Get("end")); err == nil {
		filters.EndTime = &v
	}
	return filters
}
