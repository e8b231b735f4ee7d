/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler assigns departure times, recalculates pending queues and
// confirms departures for the active session.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/prancheta/internal/clock"
	"github.com/friendsincode/prancheta/internal/config"
	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/events"
	"github.com/friendsincode/prancheta/internal/models"
	"github.com/friendsincode/prancheta/internal/scheduler/state"
	"github.com/friendsincode/prancheta/internal/telemetry"
	"github.com/rs/zerolog"
)

// Store is the persistence the scheduler needs.
type Store interface {
	Insert(ctx context.Context, d *models.Departure) error
	LatestPending(ctx context.Context, scope models.Scope, line string) (*models.Departure, error)
	LatestConfirmed(ctx context.Context, scope models.Scope, line string) (*models.Departure, error)
	ListPendingOrderedByTime(ctx context.Context, scope models.Scope, line string) ([]models.Departure, error)
	UpdateTimes(ctx context.Context, updates []departures.TimeUpdate) (departures.BatchResult, error)
	Snapshot(ctx context.Context, scope models.Scope) ([]models.Departure, error)
	Confirm(ctx context.Context, id uint64) (bool, error)
	ResetConfirmations(ctx context.Context, scope models.Scope) (int64, error)
	Edit(ctx context.Context, id uint64, req departures.EditRequest) (bool, error)
	Delete(ctx context.Context, id uint64) (bool, error)
}

// Options tunes the service.
type Options struct {
	// Lead is the offset from now used when a line has no history.
	Lead time.Duration
	// Location is the time zone session dates and clock times are read in.
	Location *time.Location
}

// Service owns the active session and serializes scheduling decisions.
//
// mu is held exclusively by operations that replace or rewrite the whole
// scope (Open, Finalize, RecalculateAll) and shared by everything else.
// Per-line mutexes serialize read-compute-write sequences on one line.
type Service struct {
	store  Store
	state  *state.Store
	clock  clock.Clock
	bus    events.Publisher
	logger zerolog.Logger
	lead   time.Duration
	loc    *time.Location

	mu sync.RWMutex

	linesMu sync.Mutex
	lines   map[string]*sync.Mutex
}

// New constructs the scheduler service. bus may be nil.
func New(store Store, st *state.Store, clk clock.Clock, bus events.Publisher, opts Options, logger zerolog.Logger) *Service {
	if opts.Lead <= 0 {
		opts.Lead = minutes(config.DefaultLeadMinutes)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if clk == nil {
		clk = clock.NewReal(opts.Location)
	}
	return &Service{
		store:  store,
		state:  st,
		clock:  clk,
		bus:    bus,
		logger: logger.With().Str("component", "scheduler").Logger(),
		lead:   opts.Lead,
		loc:    opts.Location,
		lines:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) lineLock(line string) *sync.Mutex {
	s.linesMu.Lock()
	defer s.linesMu.Unlock()
	m, ok := s.lines[line]
	if !ok {
		m = &sync.Mutex{}
		s.lines[line] = m
	}
	return m
}

// trackedLineLock returns the lock of a configured line or of a line that
// already registered departures this session, and nil otherwise. Reads for
// arbitrary line names do not grow the lock table.
func (s *Service) trackedLineLock(line string) *sync.Mutex {
	if s.state.Known(line) {
		return s.lineLock(line)
	}
	s.linesMu.Lock()
	defer s.linesMu.Unlock()
	return s.lines[line]
}

// resetLineLocks drops every per-line lock. Callers hold mu exclusively.
func (s *Service) resetLineLocks() {
	s.linesMu.Lock()
	defer s.linesMu.Unlock()
	s.lines = make(map[string]*sync.Mutex)
}

func (s *Service) publish(eventType events.EventType, payload events.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, payload)
}

func scopePayload(scope models.Scope) events.Payload {
	return events.Payload{"fiscal": scope.Fiscal, "date": scope.WorkDate}
}

// activeScope returns the scope of the open session. Callers hold mu.
func (s *Service) activeScope() (models.Scope, error) {
	sess, ok := s.state.Session()
	if !ok {
		return models.Scope{}, ErrNoActiveSession
	}
	return sess.Scope(), nil
}

// Open starts (or replaces) the active session.
func (s *Service) Open(ctx context.Context, fiscal, workDate string) (state.Session, error) {
	fiscal = strings.TrimSpace(fiscal)
	workDate = strings.TrimSpace(workDate)
	if fiscal == "" || workDate == "" {
		return state.Session{}, fmt.Errorf("%w: fiscal and date are required", ErrInvalidSession)
	}
	if _, err := time.ParseInLocation(models.WorkDateLayout, workDate, s.loc); err != nil {
		return state.Session{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidSession, workDate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := state.Session{Fiscal: fiscal, WorkDate: workDate, OpenedAt: s.clock.Now().In(s.loc)}
	prev, replaced := s.state.Session()
	s.state.OpenSession(sess)
	telemetry.SessionActive.Set(1)

	log := s.logger.Info().Str("fiscal", fiscal).Str("date", workDate)
	if replaced {
		log = log.Str("replaced_fiscal", prev.Fiscal).Str("replaced_date", prev.WorkDate)
	}
	log.Msg("session opened")

	s.publish(events.EventSessionOpened, scopePayload(sess.Scope()))
	return sess, nil
}

// Session returns the active session.
func (s *Service) Session() (state.Session, bool) {
	return s.state.Session()
}

// IsOpen reports whether a session is active.
func (s *Service) IsOpen() bool {
	_, ok := s.state.Session()
	return ok
}

// FinalizeResult is the closing snapshot of a session.
type FinalizeResult struct {
	Session     state.Session      `json:"session"`
	RecordCount int                `json:"record_count"`
	Records     []models.Departure `json:"records"`
}

// Finalize snapshots the session's records, then clears the session and
// restores every interval to its default. Records stay in the store. When
// the snapshot cannot be read the session is left open.
func (s *Service) Finalize(ctx context.Context) (FinalizeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.finalize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.state.Session()
	if !ok {
		return FinalizeResult{}, ErrNoActiveSession
	}

	records, err := s.store.Snapshot(ctx, sess.Scope())
	if err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("finalize").Inc()
		telemetry.RecordError(span, err)
		return FinalizeResult{}, fmt.Errorf("snapshot session: %w", err)
	}

	s.state.ClearSession()
	s.state.Reset()
	s.resetLineLocks()
	telemetry.SessionActive.Set(0)
	telemetry.LineIntervalMinutes.Reset()

	s.logger.Info().
		Str("fiscal", sess.Fiscal).
		Str("date", sess.WorkDate).
		Int("records", len(records)).
		Msg("session finalized")

	payload := scopePayload(sess.Scope())
	payload["records"] = len(records)
	s.publish(events.EventSessionFinalized, payload)

	return FinalizeResult{Session: sess, RecordCount: len(records), Records: records}, nil
}

// NextTime computes the time the next departure on line would get. Without
// an open session no record can anchor the line, so the onboarding lead
// applies.
func (s *Service) NextTime(ctx context.Context, line string) (Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, err := s.activeScope()
	if err != nil {
		return s.leadSlot(line), nil
	}

	if lock := s.trackedLineLock(line); lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	return s.nextSlot(ctx, scope, line), nil
}

// RegisterRequest describes a departing vehicle. Time, when set, is an
// HH:MM or HH:MM:SS time of day on the session date.
type RegisterRequest struct {
	Line      string
	VehicleID string
	Driver    string
	Time      string
}

// Registration is a stored departure and the slot it was given.
type Registration struct {
	Departure models.Departure `json:"departure"`
	Slot      Slot             `json:"slot"`
}

// Register records a pending departure, computing its time unless one is given.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.register")
	defer span.End()

	line := strings.TrimSpace(req.Line)
	if line == "" {
		return Registration{}, fmt.Errorf("%w: line is required", ErrInvalidDeparture)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.state.Session()
	if !ok {
		return Registration{}, ErrNoActiveSession
	}
	scope := sess.Scope()

	lock := s.lineLock(line)
	lock.Lock()
	defer lock.Unlock()

	var slot Slot
	if strings.TrimSpace(req.Time) != "" {
		t, err := parseClock(scope.WorkDate, req.Time, s.loc)
		if err != nil {
			return Registration{}, err
		}
		slot = Slot{Time: t, Anchor: AnchorExplicit, Interval: s.state.Interval(line)}
	} else {
		slot = s.nextSlot(ctx, scope, line)
	}

	d := models.Departure{
		Fiscal:      scope.Fiscal,
		WorkDate:    scope.WorkDate,
		Line:        line,
		VehicleID:   strings.TrimSpace(req.VehicleID),
		Driver:      strings.TrimSpace(req.Driver),
		ScheduledAt: slot.Time,
	}
	if err := s.store.Insert(ctx, &d); err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("register").Inc()
		telemetry.RecordError(span, err)
		return Registration{}, fmt.Errorf("register departure: %w", err)
	}
	d.ScheduledAt = d.ScheduledAt.In(s.loc)

	telemetry.DeparturesRegisteredTotal.WithLabelValues(line, string(slot.Anchor)).Inc()
	telemetry.AddSpanAttributes(span, map[string]any{
		"departure.id":   d.ID,
		"departure.line": line,
		"slot.anchor":    string(slot.Anchor),
	})
	s.logger.Debug().
		Uint64("id", d.ID).
		Str("line", line).
		Str("vehicle", d.VehicleID).
		Str("time", slot.Clock()).
		Str("anchor", string(slot.Anchor)).
		Msg("departure registered")

	payload := scopePayload(scope)
	payload["id"] = d.ID
	payload["line"] = line
	payload["vehicle_id"] = d.VehicleID
	payload["scheduled"] = slot.Clock()
	payload["anchor"] = string(slot.Anchor)
	s.publish(events.EventDepartureRegistered, payload)

	return Registration{Departure: d, Slot: slot}, nil
}

// Confirm fixes a departure as the anchor for its line. It reports false,
// without error, when the id does not exist.
func (s *Service) Confirm(ctx context.Context, id uint64) (bool, error) {
	ok, err := s.store.Confirm(ctx, id)
	if err != nil {
		telemetry.DeparturesConfirmedTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("confirm departure %d: %w", id, err)
	}
	if !ok {
		telemetry.DeparturesConfirmedTotal.WithLabelValues("not_found").Inc()
		s.logger.Debug().Uint64("id", id).Msg("confirm ignored, departure not found")
		return false, nil
	}

	telemetry.DeparturesConfirmedTotal.WithLabelValues("confirmed").Inc()
	payload := events.Payload{"id": id}
	if sess, open := s.state.Session(); open {
		payload["fiscal"] = sess.Fiscal
		payload["date"] = sess.WorkDate
	}
	s.publish(events.EventDepartureConfirmed, payload)
	return true, nil
}

// ResetConfirmations moves every departure of the session back to pending.
func (s *Service) ResetConfirmations(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, err := s.activeScope()
	if err != nil {
		return 0, err
	}

	n, err := s.store.ResetConfirmations(ctx, scope)
	if err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("reset_confirmations").Inc()
		return 0, fmt.Errorf("reset confirmations: %w", err)
	}

	s.logger.Info().Int64("records", n).Str("fiscal", scope.Fiscal).Str("date", scope.WorkDate).Msg("confirmations reset")
	payload := scopePayload(scope)
	payload["records"] = n
	s.publish(events.EventConfirmationsReset, payload)
	return n, nil
}

// Edit applies a manual correction to a departure. Edited times are taken as
// given and may break the spacing of the line until the next recalculation.
func (s *Service) Edit(ctx context.Context, id uint64, req departures.EditRequest) (bool, error) {
	if req.Line != nil && strings.TrimSpace(*req.Line) == "" {
		return false, fmt.Errorf("%w: line cannot be empty", ErrInvalidDeparture)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ok, err := s.store.Edit(ctx, id, req)
	if err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("edit").Inc()
		return false, err
	}
	if ok {
		payload := events.Payload{"id": id}
		if req.ScheduledAt != nil {
			payload["scheduled"] = req.ScheduledAt.In(s.loc).Format("15:04")
		}
		if req.Confirmed != nil {
			payload["confirmed"] = *req.Confirmed
		}
		s.publish(events.EventDepartureEdited, payload)
	}
	return ok, nil
}

// Delete removes a departure.
func (s *Service) Delete(ctx context.Context, id uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("delete").Inc()
		return false, err
	}
	if ok {
		s.publish(events.EventDepartureDeleted, events.Payload{"id": id})
	}
	return ok, nil
}

// ParseClock places an HH:MM or HH:MM:SS time on workDate in the service's
// location.
func (s *Service) ParseClock(workDate, raw string) (time.Time, error) {
	return parseClock(workDate, raw, s.loc)
}

// Location returns the time zone the service schedules in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// IsInputError reports whether err was caused by caller input rather than
// by the store.
func IsInputError(err error) bool {
	for _, target := range []error{ErrInvalidInterval, ErrUnknownLine, ErrInvalidSession, ErrInvalidTime, ErrInvalidDeparture} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
