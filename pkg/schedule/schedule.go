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

// Package schedule implements partition alignment for the closed set of
// schedule kinds a workflow may declare: HOURS, DAYS, WEEKS, MONTHS,
// YEARS, or an arbitrary cron expression.
package schedule

import (
	"fmt"
	"time"

	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/pkg/schedule/cron"
)

// Aligned reports whether t equals the start of some partition under s.
func Aligned(s model.Schedule, t time.Time) bool {
	switch s.Kind {
	case model.ScheduleHours:
		return t.Equal(t.Truncate(time.Hour))
	case model.ScheduleDays:
		return sameInstant(t, dayStart(t))
	case model.ScheduleWeeks:
		return sameInstant(t, weekStart(t))
	case model.ScheduleMonths:
		return sameInstant(t, monthStart(t))
	case model.ScheduleYears:
		return sameInstant(t, yearStart(t))
	case model.ScheduleCron:
		sched, err := cron.Parse(s.Expr)
		if err != nil {
			return false
		}
		return sched.Aligned(t)
	default:
		return false
	}
}

// Parameter renders t as the canonical textual parameter for s, e.g.
// "2017-01-02" for DAYS or "2017-01-02T03" for HOURS.
func Parameter(s model.Schedule, t time.Time) string {
	t = t.UTC()
	switch s.Kind {
	case model.ScheduleHours:
		return t.Format("2006-01-02T15")
	case model.ScheduleDays:
		return t.Format("2006-01-02")
	case model.ScheduleWeeks:
		return weekStart(t).Format("2006-01-02")
	case model.ScheduleMonths:
		return t.Format("2006-01")
	case model.ScheduleYears:
		return t.Format("2006")
	case model.ScheduleCron:
		return t.Format(time.RFC3339)
	default:
		return t.Format(time.RFC3339)
	}
}

// NextInstant returns the first aligned instant strictly after t.
func NextInstant(s model.Schedule, t time.Time) (time.Time, error) {
	switch s.Kind {
	case model.ScheduleHours:
		return dayTruncated(t).Add(time.Hour), nil
	case model.ScheduleDays:
		return dayStart(t).AddDate(0, 0, 1), nil
	case model.ScheduleWeeks:
		return weekStart(t).AddDate(0, 0, 7), nil
	case model.ScheduleMonths:
		return monthStart(t).AddDate(0, 1, 0), nil
	case model.ScheduleYears:
		return yearStart(t).AddDate(1, 0, 0), nil
	case model.ScheduleCron:
		sched, err := cron.Parse(s.Expr)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(t), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported schedule kind %q", s.Kind)
	}
}

// PreviousInstant returns the last aligned instant strictly before t.
func PreviousInstant(s model.Schedule, t time.Time) (time.Time, error) {
	if s.Kind != model.ScheduleCron && !Aligned(s, t) {
		next, err := NextInstant(s, t)
		if err != nil {
			return time.Time{}, err
		}
		t = next
	}
	switch s.Kind {
	case model.ScheduleHours:
		return dayTruncated(t).Add(-time.Hour), nil
	case model.ScheduleDays:
		return dayStart(t).AddDate(0, 0, -1), nil
	case model.ScheduleWeeks:
		return weekStart(t).AddDate(0, 0, -7), nil
	case model.ScheduleMonths:
		return monthStart(t).AddDate(0, -1, 0), nil
	case model.ScheduleYears:
		return yearStart(t).AddDate(-1, 0, 0), nil
	case model.ScheduleCron:
		sched, err := cron.Parse(s.Expr)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Previous(t), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported schedule kind %q", s.Kind)
	}
}

// FirstAlignedAtOrAfter returns the earliest aligned instant >= t,
// used to initialize a workflow's nextNaturalTrigger.
func FirstAlignedAtOrAfter(s model.Schedule, t time.Time) (time.Time, error) {
	if Aligned(s, t) {
		return t, nil
	}
	return NextInstant(s, t)
}

func sameInstant(a, b time.Time) bool { return a.Equal(b) }

func dayTruncated(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
	return d.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func yearStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}
