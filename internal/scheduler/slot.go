/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/prancheta/internal/models"
	"github.com/friendsincode/prancheta/internal/telemetry"
)

// Anchor names the rule that produced a scheduled time.
type Anchor string

const (
	// AnchorPending follows the latest pending departure of the line.
	AnchorPending Anchor = "pending"
	// AnchorConfirmed follows the latest confirmed departure on time.
	AnchorConfirmed Anchor = "confirmed"
	// AnchorConfirmedLate restarts from now because the confirmed slot already passed.
	AnchorConfirmedLate Anchor = "confirmed_late"
	// AnchorLead is the onboarding lead used when the line has no history.
	AnchorLead Anchor = "lead"
	// AnchorFallback is the lead used because the store could not be read.
	AnchorFallback Anchor = "fallback"
	// AnchorExplicit is a time supplied by the fiscal.
	AnchorExplicit Anchor = "explicit"
)

// Slot is a computed departure time and how it was derived.
type Slot struct {
	Time     time.Time `json:"time"`
	Anchor   Anchor    `json:"anchor"`
	Interval int       `json:"interval_minutes"`
	// SourceID is the record the time was derived from, zero when none.
	SourceID uint64 `json:"source_id,omitempty"`
}

// Fallback reports whether the slot was produced without reading the store.
func (s Slot) Fallback() bool {
	return s.Anchor == AnchorFallback
}

// Clock renders the slot time as HH:MM.
func (s Slot) Clock() string {
	return s.Time.Format("15:04")
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// afterConfirmed applies the lateness correction: the slot after a confirmed
// departure is confirmed+interval unless that moment already passed, in which
// case the line restarts from now.
func afterConfirmed(confirmed, now time.Time, interval time.Duration) (time.Time, Anchor) {
	expected := confirmed.Add(interval)
	if now.After(expected) {
		return now.Add(interval), AnchorConfirmedLate
	}
	return expected, AnchorConfirmed
}

// nextSlot evaluates the scheduling rules for line. Store failures fail open
// to the onboarding lead.
func (s *Service) nextSlot(ctx context.Context, scope models.Scope, line string) Slot {
	now := s.clock.Now().In(s.loc)
	interval := s.state.Interval(line)
	step := minutes(interval)

	slot, err := s.storeSlot(ctx, scope, line, now, step)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("line", line).
			Str("fiscal", scope.Fiscal).
			Str("date", scope.WorkDate).
			Msg("departure store unavailable, falling back to lead time")
		telemetry.SchedulerFallbacksTotal.WithLabelValues(line).Inc()
		slot = Slot{Time: now.Add(s.lead), Anchor: AnchorFallback}
	}
	slot.Time = slot.Time.In(s.loc).Truncate(time.Minute)
	slot.Interval = interval
	return slot
}

func (s *Service) leadSlot(line string) Slot {
	now := s.clock.Now().In(s.loc)
	return Slot{
		Time:     now.Add(s.lead).Truncate(time.Minute),
		Anchor:   AnchorLead,
		Interval: s.state.Interval(line),
	}
}

func (s *Service) storeSlot(ctx context.Context, scope models.Scope, line string, now time.Time, step time.Duration) (Slot, error) {
	pending, err := s.store.LatestPending(ctx, scope, line)
	if err != nil {
		return Slot{}, err
	}
	if pending != nil {
		return Slot{Time: pending.ScheduledAt.Add(step), Anchor: AnchorPending, SourceID: pending.ID}, nil
	}

	confirmed, err := s.store.LatestConfirmed(ctx, scope, line)
	if err != nil {
		return Slot{}, err
	}
	if confirmed != nil {
		t, anchor := afterConfirmed(confirmed.ScheduledAt, now, step)
		return Slot{Time: t, Anchor: anchor, SourceID: confirmed.ID}, nil
	}

	return Slot{Time: now.Add(s.lead), Anchor: AnchorLead}, nil
}

// parseClock places an HH:MM or HH:MM:SS time of day on the work date,
// truncated to the minute.
func parseClock(workDate, raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	day, err := time.ParseInLocation(models.WorkDateLayout, workDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: work date %q", ErrInvalidTime, workDate)
	}

	var tod time.Time
	for _, layout := range []string{"15:04", "15:04:05"} {
		if tod, err = time.Parse(layout, raw); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, loc), nil
}
