/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/prancheta/internal/events"
	"github.com/friendsincode/prancheta/internal/models"
)

// Subscriber is the receive side of an event bus.
type Subscriber interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

type rule struct {
	action       models.AuditAction
	resourceType string
	resourceKey  string
}

var rules = map[events.EventType]rule{
	events.EventSessionOpened:        {models.AuditActionSessionOpen, "session", ""},
	events.EventSessionFinalized:     {models.AuditActionSessionFinalize, "session", ""},
	events.EventDepartureRegistered:  {models.AuditActionDepartureRegister, "departure", "id"},
	events.EventDepartureConfirmed:   {models.AuditActionDepartureConfirm, "departure", "id"},
	events.EventDepartureEdited:      {models.AuditActionDepartureEdit, "departure", "id"},
	events.EventDepartureDeleted:     {models.AuditActionDepartureDelete, "departure", "id"},
	events.EventLineIntervalChanged:  {models.AuditActionIntervalChange, "line", "line"},
	events.EventScheduleRecalculated: {models.AuditActionScheduleRecalc, "line", "line"},
	events.EventConfirmationsReset:   {models.AuditActionConfirmationsReset, "session", ""},
}

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    Subscriber
	logger zerolog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus Subscriber, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start subscribes to every dispatch event and records entries until ctx is
// cancelled. Subscriptions are in place when Start returns.
func (s *Service) Start(ctx context.Context) {
	for eventType, r := range rules {
		sub := s.bus.Subscribe(eventType)
		s.wg.Add(1)
		go s.consume(ctx, eventType, r, sub)
	}
	s.logger.Debug().Int("event_types", len(rules)).Msg("audit service started")
}

// Wait blocks until every consumer has stopped.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) consume(ctx context.Context, eventType events.EventType, r rule, sub events.Subscriber) {
	defer s.wg.Done()
	defer s.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			s.logAuditEntry(context.WithoutCancel(ctx), r, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, r rule, payload events.Payload) {
	entry := &models.AuditLog{
		Action:       r.action,
		ResourceType: r.resourceType,
		Details:      make(map[string]any, len(payload)),
	}
	if fiscal, ok := payload["fiscal"].(string); ok {
		entry.Fiscal = fiscal
	}
	if date, ok := payload["date"].(string); ok {
		entry.WorkDate = date
	}
	if r.resourceKey != "" {
		if v, ok := payload[r.resourceKey]; ok && v != nil {
			entry.ResourceID = fmt.Sprint(v)
		}
	}

	for k, v := range payload {
		switch k {
		case "fiscal", "date":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(r.action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")
	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	Fiscal    string
	WorkDate  string
	Action    models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs, newest first, with the total matching count.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filters.Fiscal != "" {
		query = query.Where("fiscal = ?", filters.Fiscal)
	}
	if filters.WorkDate != "" {
		query = query.Where("work_date = ?", filters.WorkDate)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query = query.Limit(limit)
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
