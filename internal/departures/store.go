/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package departures persists departure records.
package departures

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/prancheta/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that address a missing record.
var ErrNotFound = errors.New("departure not found")

// TimeUpdate rewrites the scheduled time of one pending record.
type TimeUpdate struct {
	ID          uint64
	ScheduledAt time.Time
}

// BatchResult reports the outcome of UpdateTimes. Mismatched lists the ids
// whose update touched no row, typically because the record was confirmed or
// removed between the read and the write.
type BatchResult struct {
	Requested  int
	Updated    int64
	Mismatched []uint64
}

// EditRequest carries a manual correction. Nil fields are left unchanged.
type EditRequest struct {
	Line        *string
	VehicleID   *string
	Driver      *string
	ScheduledAt *time.Time
	Confirmed   *bool
}

func (r EditRequest) columns() map[string]any {
	cols := make(map[string]any)
	if r.Line != nil {
		cols["line"] = *r.Line
	}
	if r.VehicleID != nil {
		cols["vehicle_id"] = *r.VehicleID
	}
	if r.Driver != nil {
		cols["driver"] = *r.Driver
	}
	if r.ScheduledAt != nil {
		cols["scheduled_at"] = r.ScheduledAt.Truncate(time.Minute)
	}
	if r.Confirmed != nil {
		cols["confirmed"] = *r.Confirmed
	}
	return cols
}

// GormStore is the gorm-backed departure store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) scoped(ctx context.Context, scope models.Scope) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.Departure{}).
		Where("fiscal = ? AND work_date = ?", scope.Fiscal, scope.WorkDate)
}

// Insert stores a new record and fills its id.
func (s *GormStore) Insert(ctx context.Context, d *models.Departure) error {
	d.ScheduledAt = d.ScheduledAt.Truncate(time.Minute)
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("insert departure: %w", err)
	}
	return nil
}

// LatestPending returns the pending record of line with the greatest
// scheduled time, or nil when there is none.
func (s *GormStore) LatestPending(ctx context.Context, scope models.Scope, line string) (*models.Departure, error) {
	return s.latest(ctx, scope, line, false)
}

// LatestConfirmed returns the confirmed record of line with the greatest
// scheduled time, or nil when there is none.
func (s *GormStore) LatestConfirmed(ctx context.Context, scope models.Scope, line string) (*models.Departure, error) {
	return s.latest(ctx, scope, line, true)
}

func (s *GormStore) latest(ctx context.Context, scope models.Scope, line string, confirmed bool) (*models.Departure, error) {
	var rows []models.Departure
	err := s.scoped(ctx, scope).
		Where("line = ? AND confirmed = ?", line, confirmed).
		Order("scheduled_at DESC").Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest departure: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListPendingOrderedByTime returns pending records ordered by stored time,
// ties broken by id. An empty line selects every line in scope.
func (s *GormStore) ListPendingOrderedByTime(ctx context.Context, scope models.Scope, line string) ([]models.Departure, error) {
	q := s.scoped(ctx, scope).Where("confirmed = ?", false)
	if line != "" {
		q = q.Where("line = ?", line)
	}
	var rows []models.Departure
	if err := q.Order("scheduled_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return rows, nil
}

// UpdateTimes applies every update in one transaction. A row that is no
// longer pending is skipped and reported in Mismatched; any database error
// rolls the whole batch back.
func (s *GormStore) UpdateTimes(ctx context.Context, updates []TimeUpdate) (BatchResult, error) {
	result := BatchResult{Requested: len(updates)}
	if len(updates) == 0 {
		return result, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			res := tx.Model(&models.Departure{}).
				Where("id = ? AND confirmed = ?", u.ID, false).
				Update("scheduled_at", u.ScheduledAt.Truncate(time.Minute))
			if res.Error != nil {
				return fmt.Errorf("update departure %d: %w", u.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				result.Mismatched = append(result.Mismatched, u.ID)
				continue
			}
			result.Updated += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return BatchResult{Requested: len(updates)}, err
	}
	return result, nil
}

// Snapshot returns every record in scope, used when a session finalizes.
func (s *GormStore) Snapshot(ctx context.Context, scope models.Scope) ([]models.Departure, error) {
	return s.ListScope(ctx, scope)
}

// ListScope returns every record in scope ordered by scheduled time.
func (s *GormStore) ListScope(ctx context.Context, scope models.Scope) ([]models.Departure, error) {
	var rows []models.Departure
	if err := s.scoped(ctx, scope).Order("scheduled_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scope: %w", err)
	}
	return rows, nil
}

// Get loads one record by id.
func (s *GormStore) Get(ctx context.Context, id uint64) (*models.Departure, error) {
	var d models.Departure
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get departure: %w", err)
	}
	return &d, nil
}

// Confirm marks the record confirmed. It reports false when the id does not
// exist; confirming an already confirmed record succeeds.
func (s *GormStore) Confirm(ctx context.Context, id uint64) (bool, error) {
	return s.updateExisting(ctx, id, map[string]any{"confirmed": true})
}

// ResetConfirmations moves every confirmed record in scope back to pending.
func (s *GormStore) ResetConfirmations(ctx context.Context, scope models.Scope) (int64, error) {
	res := s.scoped(ctx, scope).Where("confirmed = ?", true).Update("confirmed", false)
	if res.Error != nil {
		return 0, fmt.Errorf("reset confirmations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Edit applies a manual correction. It reports false when the id does not exist.
func (s *GormStore) Edit(ctx context.Context, id uint64, req EditRequest) (bool, error) {
	return s.updateExisting(ctx, id, req.columns())
}

// Delete removes a record. It reports false when the id does not exist.
func (s *GormStore) Delete(ctx context.Context, id uint64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&models.Departure{}, "id = ?", id)
	if res.Error != nil {
		return false, fmt.Errorf("delete departure: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// updateExisting checks existence and applies cols in one transaction, so
// the result does not depend on whether the backend counts unchanged rows.
func (s *GormStore) updateExisting(ctx context.Context, id uint64, cols map[string]any) (bool, error) {
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Departure{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		found = true
		if len(cols) == 0 {
			return nil
		}
		return tx.Model(&models.Departure{}).Where("id = ?", id).Updates(cols).Error
	})
	if err != nil {
		return false, fmt.Errorf("update departure %d: %w", id, err)
	}
	return found, nil
}
