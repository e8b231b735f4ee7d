/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package departures

import (
	"context"
	"fmt"

	"github.com/friendsincode/prancheta/internal/models"
	"gorm.io/gorm"
)

// Status filters records by confirmation state.
type Status string

const (
	StatusAny       Status = ""
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// ParseStatus validates a status filter value.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusAny, StatusPending, StatusConfirmed:
		return s, nil
	default:
		return StatusAny, fmt.Errorf("unknown status %q", raw)
	}
}

// Filter narrows historical queries. Empty fields match everything. From and
// To bound the work date inclusively (YYYY-MM-DD).
type Filter struct {
	Fiscal   string
	WorkDate string
	From     string
	To       string
	Line     string
	Status   Status
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if f.Fiscal != "" {
		q = q.Where("fiscal = ?", f.Fiscal)
	}
	if f.WorkDate != "" {
		q = q.Where("work_date = ?", f.WorkDate)
	}
	if f.From != "" {
		q = q.Where("work_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("work_date <= ?", f.To)
	}
	if f.Line != "" {
		q = q.Where("line = ?", f.Line)
	}
	switch f.Status {
	case StatusPending:
		q = q.Where("confirmed = ?", false)
	case StatusConfirmed:
		q = q.Where("confirmed = ?", true)
	}
	return q
}

// Counts is a pending/confirmed tally.
type Counts struct {
	Total     int64 `json:"total"`
	Confirmed int64 `json:"confirmed"`
	Pending   int64 `json:"pending"`
}

func (c *Counts) add(confirmed bool, n int64) {
	c.Total += n
	if confirmed {
		c.Confirmed += n
	} else {
		c.Pending += n
	}
}

// Stats summarizes the records matched by a filter.
type Stats struct {
	Counts
	ByLine   map[string]Counts `json:"by_line"`
	ByFiscal map[string]Counts `json:"by_fiscal"`
	ByDate   map[string]Counts `json:"by_date"`
}

func tally(m map[string]Counts, key string, confirmed bool, n int64) {
	c := m[key]
	c.add(confirmed, n)
	m[key] = c
}

// Query returns records matching f ordered by work date, scheduled time and id.
func (s *GormStore) Query(ctx context.Context, f Filter) ([]models.Departure, error) {
	var rows []models.Departure
	q := f.apply(s.db.WithContext(ctx).Model(&models.Departure{}))
	if err := q.Order("work_date ASC").Order("scheduled_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query departures: %w", err)
	}
	return rows, nil
}

// Stats tallies records matching f, overall and per line, fiscal and work date.
func (s *GormStore) Stats(ctx context.Context, f Filter) (Stats, error) {
	var groups []struct {
		Fiscal    string
		WorkDate  string
		Line      string
		Confirmed bool
		N         int64
	}
	q := f.apply(s.db.WithContext(ctx).Model(&models.Departure{}))
	err := q.Select("fiscal, work_date, line, confirmed, COUNT(*) AS n").
		Group("fiscal").Group("work_date").Group("line").Group("confirmed").
		Scan(&groups).Error
	if err != nil {
		return Stats{}, fmt.Errorf("departure stats: %w", err)
	}

	stats := Stats{
		ByLine:   make(map[string]Counts),
		ByFiscal: make(map[string]Counts),
		ByDate:   make(map[string]Counts),
	}
	for _, g := range groups {
		stats.add(g.Confirmed, g.N)
		tally(stats.ByLine, g.Line, g.Confirmed, g.N)
		tally(stats.ByFiscal, g.Fiscal, g.Confirmed, g.N)
		tally(stats.ByDate, g.WorkDate, g.Confirmed, g.N)
	}
	return stats, nil
}
