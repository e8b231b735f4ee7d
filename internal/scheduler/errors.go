/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import "errors"

var (
	// ErrInvalidInterval is returned for intervals outside [1,60] minutes.
	ErrInvalidInterval = errors.New("interval out of range")
	// ErrUnknownLine is returned when changing the interval of a line that is not recognized.
	ErrUnknownLine = errors.New("unknown line")
	// ErrNoActiveSession is returned by operations that need an open session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrInvalidSession is returned when opening a session with a missing fiscal or malformed date.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidTime is returned for explicit departure times that are not HH:MM or HH:MM:SS.
	ErrInvalidTime = errors.New("invalid departure time")
	// ErrInvalidDeparture is returned when a registration lacks a line.
	ErrInvalidDeparture = errors.New("invalid departure")
)
