// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cron implements a standard 5-field cron expression parser
// with minute-resolution next/previous computation.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var aliases = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
	"@yearly":  "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

// Expr is a parsed cron expression with minute-resolution fields.
type Expr struct {
	minutes  []int
	hours    []int
	days     []int
	months   []int
	weekdays []int
}

// Parse parses a standard 5-field cron expression or one of the
// "@hourly"/"@daily"/"@weekly"/"@monthly"/"@yearly" aliases.
func Parse(expr string) (*Expr, error) {
	if alias, ok := aliases[strings.ToLower(strings.TrimSpace(expr))]; ok {
		expr = alias
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(fields), expr)
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cron: minute field: %w", err)
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cron: hour field: %w", err)
	}
	days, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-month field: %w", err)
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cron: month field: %w", err)
	}
	weekdays, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-week field: %w", err)
	}

	return &Expr{minutes: minutes, hours: hours, days: days, months: months, weekdays: weekdays}, nil
}

// parseField expands one cron field ("*", "N", "A-B", "*/S", "A-B/S",
// or a comma-separated combination) into the sorted set of values it
// selects within [min, max].
func parseField(field string, min, max int) ([]int, error) {
	set := map[int]struct{}{}
	for _, part := range strings.Split(field, ",") {
		values, err := parsePart(part, min, max)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			set[v] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sortInts(out)
	return out, nil
}

func parsePart(part string, min, max int) ([]int, error) {
	step := 1
	base := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		base = part[:idx]
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step in %q", part)
		}
		step = s
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = min, max
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid range %q", base)
		}
		lo, hi = a, b
	default:
		v, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", base)
		}
		lo, hi = v, v
	}

	if lo < min || hi > max || lo > hi {
		return nil, fmt.Errorf("value out of range [%d,%d]: %q", min, max, part)
	}

	var out []int
	for v := lo; v <= hi; v += step {
		out = append(out, v)
	}
	return out, nil
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func contains(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func (e *Expr) matches(t time.Time) bool {
	return contains(e.minutes, t.Minute()) &&
		contains(e.hours, t.Hour()) &&
		contains(e.days, t.Day()) &&
		contains(e.months, int(t.Month())) &&
		contains(e.weekdays, int(t.Weekday()))
}

// Next returns the first minute-aligned instant strictly after t that
// matches the expression. Searches forward up to four years to bound
// runaway expressions (e.g. a day-of-month/weekday combination that
// would otherwise never occur).
func (e *Expr) Next(t time.Time) time.Time {
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)
	for !e.matches(t) {
		t = t.Add(time.Minute)
		if t.After(limit) {
			return limit
		}
	}
	return t
}

// Previous returns the last minute-aligned instant strictly before t
// that matches the expression.
func (e *Expr) Previous(t time.Time) time.Time {
	t = t.Truncate(time.Minute).Add(-time.Minute)
	limit := t.AddDate(-4, 0, 0)
	for !e.matches(t) {
		t = t.Add(-time.Minute)
		if t.Before(limit) {
			return limit
		}
	}
	return t
}

// Aligned reports whether t (truncated to the minute) matches the expression.
func (e *Expr) Aligned(t time.Time) bool {
	return e.matches(t.Truncate(time.Minute))
}
