/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/prancheta/internal/config"
	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/events"
	"github.com/friendsincode/prancheta/internal/models"
	"github.com/friendsincode/prancheta/internal/scheduler/state"
	"github.com/friendsincode/prancheta/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

const (
	recalcLine   = "line"
	recalcGlobal = "global"
)

// IntervalChange reports an interval update and the pending records it moved.
type IntervalChange struct {
	Line           string `json:"line,omitempty"`
	Old            int    `json:"old_minutes"`
	New            int    `json:"new_minutes"`
	RecordsUpdated int    `json:"records_updated"`
}

// Interval returns the current interval of line.
func (s *Service) Interval(line string) int {
	return s.state.Interval(line)
}

// Lines lists the recognized lines and their intervals.
func (s *Service) Lines() []state.LineInterval {
	return s.state.Lines()
}

// GlobalInterval returns the interval used by RecalculateAll.
func (s *Service) GlobalInterval() int {
	return s.state.GlobalInterval()
}

// SetInterval changes the interval of a recognized line and, when a session
// is open, respaces the line's pending departures. If the respacing fails the
// previous interval is restored.
func (s *Service) SetInterval(ctx context.Context, line string, minutes int) (IntervalChange, error) {
	if !config.ValidInterval(minutes) {
		return IntervalChange{}, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidInterval, minutes, config.MinIntervalMinutes, config.MaxIntervalMinutes)
	}
	if !s.state.Known(line) {
		return IntervalChange{}, fmt.Errorf("%w: %q", ErrUnknownLine, line)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lock := s.lineLock(line)
	lock.Lock()
	defer lock.Unlock()

	old, _ := s.state.SetInterval(line, minutes)
	change := IntervalChange{Line: line, Old: old, New: minutes}

	if sess, open := s.state.Session(); open {
		n, err := s.recalculateLine(ctx, sess.Scope(), line)
		if err != nil {
			s.state.SetInterval(line, old)
			return IntervalChange{}, err
		}
		change.RecordsUpdated = n
	}
	telemetry.LineIntervalMinutes.WithLabelValues(line).Set(float64(minutes))

	s.logger.Info().
		Str("line", line).
		Int("old", old).
		Int("new", minutes).
		Int("records_updated", change.RecordsUpdated).
		Msg("line interval changed")

	s.publish(events.EventLineIntervalChanged, events.Payload{
		"line":            line,
		"old":             old,
		"new":             minutes,
		"records_updated": change.RecordsUpdated,
	})
	return change, nil
}

// RecalculateLine respaces the pending departures of line from its anchor.
func (s *Service) RecalculateLine(ctx context.Context, line string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, err := s.activeScope()
	if err != nil {
		return 0, err
	}

	lock := s.lineLock(line)
	lock.Lock()
	defer lock.Unlock()

	return s.recalculateLine(ctx, scope, line)
}

// recalculateLine rewrites pending records of line as base, base+I, base+2I,
// ... in stored time order. The base is the slot after the latest confirmed
// departure (with the lateness correction) or the onboarding lead. Callers
// hold mu shared and the line lock.
func (s *Service) recalculateLine(ctx context.Context, scope models.Scope, line string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.recalculate_line")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"line": line})

	pending, err := s.store.ListPendingOrderedByTime(ctx, scope, line)
	if err != nil {
		return 0, s.recalcFailed(span, recalcLine, fmt.Errorf("list pending for line %s: %w", line, err))
	}
	if len(pending) == 0 {
		return 0, nil
	}

	now := s.clock.Now().In(s.loc)
	step := minutes(s.state.Interval(line))

	base := now.Add(s.lead)
	confirmed, err := s.store.LatestConfirmed(ctx, scope, line)
	if err != nil {
		return 0, s.recalcFailed(span, recalcLine, fmt.Errorf("latest confirmed for line %s: %w", line, err))
	}
	if confirmed != nil {
		base, _ = afterConfirmed(confirmed.ScheduledAt, now, step)
	}

	n, err := s.applySpacing(ctx, recalcLine, pending, base, step)
	if err != nil {
		return 0, s.recalcFailed(span, recalcLine, err)
	}

	payload := scopePayload(scope)
	payload["kind"] = recalcLine
	payload["line"] = line
	payload["records"] = n
	s.publish(events.EventScheduleRecalculated, payload)
	return n, nil
}

// SetGlobalInterval changes the legacy all-lines interval and, when a session
// is open, respaces every pending departure with it. Per-line intervals are
// not touched.
func (s *Service) SetGlobalInterval(ctx context.Context, minutes int) (IntervalChange, error) {
	if !config.ValidInterval(minutes) {
		return IntervalChange{}, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidInterval, minutes, config.MinIntervalMinutes, config.MaxIntervalMinutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state.SetGlobalInterval(minutes)
	change := IntervalChange{Old: old, New: minutes}

	if sess, open := s.state.Session(); open {
		n, err := s.recalculateAll(ctx, sess.Scope())
		if err != nil {
			s.state.SetGlobalInterval(old)
			return IntervalChange{}, err
		}
		change.RecordsUpdated = n
	}

	s.logger.Info().
		Int("old", old).
		Int("new", minutes).
		Int("records_updated", change.RecordsUpdated).
		Msg("global interval changed")
	return change, nil
}

// RecalculateAll respaces every pending departure of the session, across
// lines, from now plus the lead using the global interval.
func (s *Service) RecalculateAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, err := s.activeScope()
	if err != nil {
		return 0, err
	}
	return s.recalculateAll(ctx, scope)
}

// recalculateAll expects mu held exclusively, which also excludes every
// per-line sequence.
func (s *Service) recalculateAll(ctx context.Context, scope models.Scope) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.recalculate_all")
	defer span.End()

	pending, err := s.store.ListPendingOrderedByTime(ctx, scope, "")
	if err != nil {
		return 0, s.recalcFailed(span, recalcGlobal, fmt.Errorf("list pending: %w", err))
	}
	if len(pending) == 0 {
		return 0, nil
	}

	base := s.clock.Now().In(s.loc).Add(s.lead)
	n, err := s.applySpacing(ctx, recalcGlobal, pending, base, minutes(s.state.GlobalInterval()))
	if err != nil {
		return 0, s.recalcFailed(span, recalcGlobal, err)
	}

	payload := scopePayload(scope)
	payload["kind"] = recalcGlobal
	payload["records"] = n
	s.publish(events.EventScheduleRecalculated, payload)
	return n, nil
}

func (s *Service) applySpacing(ctx context.Context, kind string, pending []models.Departure, base time.Time, step time.Duration) (int, error) {
	updates := make([]departures.TimeUpdate, len(pending))
	for i, d := range pending {
		updates[i] = departures.TimeUpdate{
			ID:          d.ID,
			ScheduledAt: base.Add(time.Duration(i) * step).Truncate(time.Minute),
		}
	}

	res, err := s.store.UpdateTimes(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("apply recalculated times: %w", err)
	}

	telemetry.RecalculationsTotal.WithLabelValues(kind).Inc()
	telemetry.RecalculatedRecordsTotal.WithLabelValues(kind).Add(float64(res.Updated))
	if len(res.Mismatched) > 0 {
		telemetry.RecalculationMismatchesTotal.Add(float64(len(res.Mismatched)))
		s.logger.Warn().
			Str("kind", kind).
			Int("requested", res.Requested).
			Int64("updated", res.Updated).
			Interface("mismatched_ids", res.Mismatched).
			Msg("recalculation skipped records that were no longer pending")
	}
	return int(res.Updated), nil
}

func (s *Service) recalcFailed(span trace.Span, kind string, err error) error {
	telemetry.RecordError(span, err)
	telemetry.SchedulerErrorsTotal.WithLabelValues("recalculate_" + kind).Inc()
	s.logger.Error().Err(err).Str("kind", kind).Msg("recalculation failed")
	return err
}
