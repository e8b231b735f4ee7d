/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LineSpec declares a recognized line and the interval it starts each day with.
type LineSpec struct {
	Name     string `yaml:"name"`
	Interval int    `yaml:"interval_minutes"`
}

type linesFile struct {
	Lines []LineSpec `yaml:"lines"`
}

// LoadLinesFile reads recognized lines from a YAML document of the form:
//
//	lines:
//	  - name: "101"
//	    interval_minutes: 12
//	  - name: "202"
//
// Entries without an interval take def.
func LoadLinesFile(path string, def int) ([]LineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lines file: %w", err)
	}
	return ParseLines(data, def)
}

// ParseLines decodes and validates a YAML lines document.
func ParseLines(data []byte, def int) ([]LineSpec, error) {
	var doc linesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse lines file: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Lines))
	out := make([]LineSpec, 0, len(doc.Lines))
	for i, spec := range doc.Lines {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, fmt.Errorf("lines[%d]: name is required", i)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("lines[%d]: duplicate line %q", i, spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if spec.Interval == 0 {
			spec.Interval = def
		}
		if !ValidInterval(spec.Interval) {
			return nil, fmt.Errorf("lines[%d]: interval %d for line %q outside [%d,%d]", i, spec.Interval, spec.Name, MinIntervalMinutes, MaxIntervalMinutes)
		}
		out = append(out, spec)
	}
	return out, nil
}
