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

package schedule

import (
	"testing"
	"time"

	"github.com/workflowcore/workflowcore/internal/model"
)

func TestAlignedDays(t *testing.T) {
	s := model.Schedule{Kind: model.ScheduleDays}
	aligned := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	misaligned := time.Date(2020, 1, 1, 3, 15, 0, 0, time.UTC)

	if !Aligned(s, aligned) {
		t.Errorf("expected %v to be aligned", aligned)
	}
	if Aligned(s, misaligned) {
		t.Errorf("expected %v to be misaligned", misaligned)
	}
}

func TestParameterRendering(t *testing.T) {
	hourly := model.Schedule{Kind: model.ScheduleHours}
	daily := model.Schedule{Kind: model.ScheduleDays}
	instant := time.Date(2017, 1, 2, 3, 0, 0, 0, time.UTC)

	if got := Parameter(hourly, instant); got != "2017-01-02T03" {
		t.Errorf("Parameter(hours) = %q, want 2017-01-02T03", got)
	}
	if got := Parameter(daily, instant); got != "2017-01-02" {
		t.Errorf("Parameter(days) = %q, want 2017-01-02", got)
	}
}

func TestNextPreviousDailyRoundTrip(t *testing.T) {
	s := model.Schedule{Kind: model.ScheduleDays}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := NextInstant(s, start)
	if err != nil {
		t.Fatalf("NextInstant: %v", err)
	}
	if want := start.AddDate(0, 0, 1); !next.Equal(want) {
		t.Errorf("NextInstant = %v, want %v", next, want)
	}

	prev, err := PreviousInstant(s, next)
	if err != nil {
		t.Fatalf("PreviousInstant: %v", err)
	}
	if !prev.Equal(start) {
		t.Errorf("PreviousInstant(NextInstant(start)) = %v, want %v", prev, start)
	}
}

func TestFirstAlignedAtOrAfter(t *testing.T) {
	s := model.Schedule{Kind: model.ScheduleDays}
	misaligned := time.Date(2020, 1, 1, 3, 15, 0, 0, time.UTC)

	got, err := FirstAlignedAtOrAfter(s, misaligned)
	if err != nil {
		t.Fatalf("FirstAlignedAtOrAfter: %v", err)
	}
	want := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("FirstAlignedAtOrAfter = %v, want %v", got, want)
	}

	alreadyAligned := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	got, err = FirstAlignedAtOrAfter(s, alreadyAligned)
	if err != nil {
		t.Fatalf("FirstAlignedAtOrAfter: %v", err)
	}
	if !got.Equal(alreadyAligned) {
		t.Errorf("FirstAlignedAtOrAfter(aligned) = %v, want %v", got, alreadyAligned)
	}
}

func TestWeeksAlignOnMonday(t *testing.T) {
	s := model.Schedule{Kind: model.ScheduleWeeks}
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // a Monday
	wednesday := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	if !Aligned(s, monday) {
		t.Errorf("expected Monday %v to be aligned", monday)
	}
	if Aligned(s, wednesday) {
		t.Errorf("expected Wednesday %v to be misaligned", wednesday)
	}
}

func TestCronAligned(t *testing.T) {
	s := model.Schedule{Kind: model.ScheduleCron, Expr: "0 * * * *"}
	onTheHour := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	offTheHour := time.Date(2024, 1, 1, 5, 30, 0, 0, time.UTC)

	if !Aligned(s, onTheHour) {
		t.Errorf("expected %v to be aligned", onTheHour)
	}
	if Aligned(s, offTheHour) {
		t.Errorf("expected %v to be misaligned", offTheHour)
	}
}
