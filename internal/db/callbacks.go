/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/friendsincode/prancheta/internal/telemetry"
	"gorm.io/gorm"
)

const startTimeKey = "prancheta:start_time"

// RegisterCallbacks hooks query duration and error metrics into every CRUD
// operation. Safe to call once per *gorm.DB.
func RegisterCallbacks(database *gorm.DB) error {
	cb := database.Callback()

	steps := []struct {
		op     string
		before func(string) error
		after  func(string) error
	}{
		{
			op:     "query",
			before: func(name string) error { return cb.Query().Before("gorm:query").Register(name, beforeCallback) },
			after:  func(name string) error { return cb.Query().After("gorm:query").Register(name, afterCallback("query")) },
		},
		{
			op:     "create",
			before: func(name string) error { return cb.Create().Before("gorm:create").Register(name, beforeCallback) },
			after:  func(name string) error { return cb.Create().After("gorm:create").Register(name, afterCallback("create")) },
		},
		{
			op:     "update",
			before: func(name string) error { return cb.Update().Before("gorm:update").Register(name, beforeCallback) },
			after:  func(name string) error { return cb.Update().After("gorm:update").Register(name, afterCallback("update")) },
		},
		{
			op:     "delete",
			before: func(name string) error { return cb.Delete().Before("gorm:delete").Register(name, beforeCallback) },
			after:  func(name string) error { return cb.Delete().After("gorm:delete").Register(name, afterCallback("delete")) },
		},
	}

	for _, s := range steps {
		if err := s.before("telemetry:before_" + s.op); err != nil {
			return err
		}
		if err := s.after("telemetry:after_" + s.op); err != nil {
			return err
		}
	}
	return nil
}

func beforeCallback(tx *gorm.DB) {
	tx.InstanceSet(startTimeKey, time.Now())
}

func afterCallback(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		value, ok := tx.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := value.(time.Time)
		if !ok {
			return
		}

		table := tx.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, errorType(tx.Error)).Inc()
		}
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate_key"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return "invalid_transaction"
	default:
		return "query_error"
	}
}

// UpdateConnectionMetrics publishes the open connection count.
func UpdateConnectionMetrics(database *gorm.DB) {
	sqlDB, err := database.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
