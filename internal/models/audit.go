/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for dispatch operations.
const (
	AuditActionSessionOpen        AuditAction = "session.open"
	AuditActionSessionFinalize    AuditAction = "session.finalize"
	AuditActionDepartureRegister  AuditAction = "departure.register"
	AuditActionDepartureConfirm   AuditAction = "departure.confirm"
	AuditActionDepartureEdit      AuditAction = "departure.edit"
	AuditActionDepartureDelete    AuditAction = "departure.delete"
	AuditActionIntervalChange     AuditAction = "line.interval_change"
	AuditActionScheduleRecalc     AuditAction = "schedule.recalculate"
	AuditActionConfirmationsReset AuditAction = "confirmations.reset"
)

// AuditLog records dispatch operations for later review.
type AuditLog struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	Fiscal       string         `gorm:"type:varchar(128);index:idx_audit_scope" json:"fiscal"`
	WorkDate     string         `gorm:"type:varchar(10);index:idx_audit_scope" json:"work_date"`
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	ResourceType string         `gorm:"type:varchar(64)" json:"resource_type"` // "departure", "line", "session"
	ResourceID   string         `gorm:"type:varchar(64)" json:"resource_id"`
	Details      map[string]any `gorm:"type:text;serializer:json" json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
