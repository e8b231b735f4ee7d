/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how domain events leave the process.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

const (
	// DefaultIntervalMinutes is the spacing applied to lines without an override.
	DefaultIntervalMinutes = 8
	// DefaultLeadMinutes is the onboarding lead used when a line has no history.
	DefaultLeadMinutes = 10
	// MinIntervalMinutes and MaxIntervalMinutes bound every interval change.
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 60
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	Timezone    string
	Location    *time.Location

	// Scheduling
	DefaultInterval int
	GlobalInterval  int
	LeadMinutes     int
	LinesFile       string
	Lines           []LineSpec

	// Event fan-out
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"PRANCHETA_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"PRANCHETA_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"PRANCHETA_HTTP_PORT", "PORT"}, 8001),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"PRANCHETA_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:           getEnvAny([]string{"PRANCHETA_DB_DSN"}, ""),
		Timezone:        getEnvAny([]string{"PRANCHETA_TIMEZONE"}, "UTC"),
		DefaultInterval: getEnvIntAny([]string{"PRANCHETA_DEFAULT_INTERVAL_MINUTES"}, DefaultIntervalMinutes),
		GlobalInterval:  getEnvIntAny([]string{"PRANCHETA_GLOBAL_INTERVAL_MINUTES"}, DefaultIntervalMinutes),
		LeadMinutes:     getEnvIntAny([]string{"PRANCHETA_LEAD_MINUTES"}, DefaultLeadMinutes),
		LinesFile:       getEnvAny([]string{"PRANCHETA_LINES_FILE"}, ""),

		EventBus:      EventBusBackend(getEnvAny([]string{"PRANCHETA_EVENT_BUS"}, string(EventBusMemory))),
		RedisAddr:     getEnvAny([]string{"PRANCHETA_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"PRANCHETA_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"PRANCHETA_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"PRANCHETA_NATS_URL"}, "nats://localhost:4222"),
		InstanceID:    getEnvAny([]string{"PRANCHETA_INSTANCE_ID"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"PRANCHETA_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"PRANCHETA_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"PRANCHETA_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("PRANCHETA_DB_DSN must be provided for backend %s", cfg.DBBackend)
		}
		cfg.DBDSN = "prancheta.db"
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if !ValidInterval(cfg.DefaultInterval) {
		return nil, fmt.Errorf("PRANCHETA_DEFAULT_INTERVAL_MINUTES must be within [%d,%d], got %d", MinIntervalMinutes, MaxIntervalMinutes, cfg.DefaultInterval)
	}
	if !ValidInterval(cfg.GlobalInterval) {
		return nil, fmt.Errorf("PRANCHETA_GLOBAL_INTERVAL_MINUTES must be within [%d,%d], got %d", MinIntervalMinutes, MaxIntervalMinutes, cfg.GlobalInterval)
	}
	if cfg.LeadMinutes < 0 {
		return nil, fmt.Errorf("PRANCHETA_LEAD_MINUTES must not be negative")
	}

	if cfg.LinesFile != "" {
		lines, err := LoadLinesFile(cfg.LinesFile, cfg.DefaultInterval)
		if err != nil {
			return nil, err
		}
		cfg.Lines = lines
	} else {
		cfg.Lines = parseLineList(getEnvAny([]string{"PRANCHETA_LINES"}, ""), cfg.DefaultInterval)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// ValidInterval reports whether minutes is an accepted line interval.
func ValidInterval(minutes int) bool {
	return minutes >= MinIntervalMinutes && minutes <= MaxIntervalMinutes
}

func parseLineList(raw string, def int) []LineSpec {
	var lines []LineSpec
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		lines = append(lines, LineSpec{Name: name, Interval: def})
	}
	return lines
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"PORT": "use PRANCHETA_HTTP_PORT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
