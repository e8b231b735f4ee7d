/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state holds the in-memory session and line registry of one
// dispatcher instance.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/prancheta/internal/config"
	"github.com/friendsincode/prancheta/internal/models"
)

// Session is the active (fiscal, work date) pair.
type Session struct {
	Fiscal   string    `json:"fiscal"`
	WorkDate string    `json:"date"`
	OpenedAt time.Time `json:"opened_at"`
}

// Scope returns the record scope of the session.
func (s Session) Scope() models.Scope {
	return models.Scope{Fiscal: s.Fiscal, WorkDate: s.WorkDate}
}

// LineInterval describes a recognized line.
type LineInterval struct {
	Name     string `json:"line"`
	Interval int    `json:"interval_minutes"`
	Default  int    `json:"default_minutes"`
}

// Store keeps the session and per-line intervals. Range checks belong to the
// caller; the store only records values.
type Store struct {
	mu sync.RWMutex

	session *Session

	fallback  int
	defaults  map[string]int
	intervals map[string]int

	globalDefault int
	global        int
}

// NewStore creates a registry for the recognized lines. Lines without their
// own interval take fallback; global seeds the legacy all-lines interval.
func NewStore(lines []config.LineSpec, fallback, global int) *Store {
	s := &Store{
		fallback:      fallback,
		defaults:      make(map[string]int, len(lines)),
		intervals:     make(map[string]int, len(lines)),
		globalDefault: global,
		global:        global,
	}
	for _, l := range lines {
		interval := l.Interval
		if interval == 0 {
			interval = fallback
		}
		s.defaults[l.Name] = interval
		s.intervals[l.Name] = interval
	}
	return s
}

// OpenSession replaces the active session.
func (s *Store) OpenSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &sess
}

// Session returns the active session.
func (s *Store) Session() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// ClearSession drops the active session and returns it.
func (s *Store) ClearSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	prev := *s.session
	s.session = nil
	return prev, true
}

// Known reports whether line is recognized.
func (s *Store) Known(line string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.defaults[line]
	return ok
}

// Interval returns the current interval of line, or the fallback for lines
// that are not recognized.
func (s *Store) Interval(line string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.intervals[line]; ok {
		return v
	}
	return s.fallback
}

// SetInterval records a new interval for a recognized line and returns the
// previous one. ok is false for unknown lines.
func (s *Store) SetInterval(line string, minutes int) (old int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok = s.intervals[line]
	if !ok {
		return 0, false
	}
	s.intervals[line] = minutes
	return old, true
}

// Lines lists recognized lines sorted by name.
func (s *Store) Lines() []LineInterval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LineInterval, 0, len(s.defaults))
	for name, def := range s.defaults {
		out = append(out, LineInterval{Name: name, Interval: s.intervals[name], Default: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GlobalInterval returns the interval used by whole-scope recalculation.
func (s *Store) GlobalInterval() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SetGlobalInterval records a new global interval and returns the previous one.
func (s *Store) SetGlobalInterval(minutes int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.global
	s.global = minutes
	return old
}

// Reset restores every interval to its configured default.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, def := range s.defaults {
		s.intervals[name] = def
	}
	s.global = s.globalDefault
}
