/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// WorkDateLayout is the canonical representation of a session work date.
const WorkDateLayout = "2006-01-02"

// Scope identifies the (fiscal, work date) pair that groups one working
// day of departures.
type Scope struct {
	Fiscal   string `json:"fiscal"`
	WorkDate string `json:"date"`
}

// Departure is one vehicle exit recorded by a fiscal.
type Departure struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Fiscal      string    `gorm:"type:varchar(128);not null;index:idx_departure_scope,priority:1" json:"fiscal"`
	WorkDate    string    `gorm:"type:varchar(10);not null;index:idx_departure_scope,priority:2" json:"work_date"`
	Line        string    `gorm:"type:varchar(64);not null;index:idx_departure_scope,priority:3" json:"line"`
	VehicleID   string    `gorm:"type:varchar(64)" json:"vehicle_id"`
	Driver      string    `gorm:"type:varchar(128)" json:"driver"`
	ScheduledAt time.Time `gorm:"not null;index:idx_departure_scope,priority:5" json:"scheduled_at"`
	Confirmed   bool      `gorm:"not null;index:idx_departure_scope,priority:4" json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Departure) TableName() string {
	return "departures"
}

// Scope returns the session scope the departure belongs to.
func (d Departure) Scope() Scope {
	return Scope{Fiscal: d.Fiscal, WorkDate: d.WorkDate}
}

// ClockTime renders the scheduled time of day as HH:MM in loc.
func (d Departure) ClockTime(loc *time.Location) string {
	return d.ScheduledAt.In(loc).Format("15:04")
}
