/*-------------------------------------------------------------------------
 *
 * models_test.go
 *    Model validation tests for NeuronFlow
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

/* TestTaskRulesValidate checks the rules array invariant: nil or non-empty
 * with every rule named */
func TestTaskRulesValidate(t *testing.T) {
	var nilRules TaskRules
	if err := nilRules.Validate(); err != nil {
		t.Errorf("nil rules should be valid, got %v", err)
	}

	if err := (TaskRules{}).Validate(); err == nil {
		t.Error("empty rules array should be invalid")
	}

	if err := (TaskRules{{Name: "limit", Failed: true}}).Validate(); err != nil {
		t.Errorf("named rule should be valid, got %v", err)
	}

	err := (TaskRules{{Name: "  ", Failed: false}}).Validate()
	if !errors.Is(err, ErrInvalidRule) {
		t.Errorf("blank rule name should fail with ErrInvalidRule, got %v", err)
	}
}

func TestTaskRulesHasFailed(t *testing.T) {
	rules := TaskRules{
		{Name: "count", Failed: false},
		{Name: "limit", Failed: true},
	}
	if !rules.HasFailed() {
		t.Error("expected HasFailed to report the failed rule")
	}
	if (TaskRules{{Name: "count", Failed: false}}).HasFailed() {
		t.Error("expected HasFailed to be false without failed rules")
	}
}

func TestTaskRulesScanRoundTrip(t *testing.T) {
	message := "over the line"
	rules := TaskRules{{Name: "limit", Failed: true, Message: &message}}

	value, err := rules.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned TaskRules
	if err := scanned.Scan(value); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(scanned) != 1 || scanned[0].Name != "limit" || !scanned[0].Failed {
		t.Errorf("round trip mismatch: %+v", scanned)
	}
	if scanned[0].Message == nil || *scanned[0].Message != message {
		t.Errorf("message lost in round trip: %+v", scanned[0])
	}
}

func TestJobScheduleValidate(t *testing.T) {
	cases := []struct {
		name     string
		schedule JobSchedule
		valid    bool
	}{
		{"empty", JobSchedule{}, false},
		{"single entry", JobSchedule{{DayOfWeek: 1, TimeOfDay: "00:00:00"}}, true},
		{"day too low", JobSchedule{{DayOfWeek: 0, TimeOfDay: "00:00:00"}}, false},
		{"day too high", JobSchedule{{DayOfWeek: 8, TimeOfDay: "00:00:00"}}, false},
		{"bad time", JobSchedule{{DayOfWeek: 3, TimeOfDay: "25:00:00"}}, false},
		{"duplicate", JobSchedule{
			{DayOfWeek: 2, TimeOfDay: "08:30:00"},
			{DayOfWeek: 2, TimeOfDay: "08:30:00"},
		}, false},
		{"two distinct", JobSchedule{
			{DayOfWeek: 1, TimeOfDay: "00:00:00"},
			{DayOfWeek: 2, TimeOfDay: "00:00:00"},
		}, true},
	}

	for _, tc := range cases {
		err := tc.schedule.Validate()
		if tc.valid && err != nil {
			t.Errorf("%s: expected valid, got %v", tc.name, err)
		}
		if !tc.valid && !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("%s: expected ErrInvalidSchedule, got %v", tc.name, err)
		}
	}
}

/* TestJobScheduleNextRun pins the weekly slot computation: from a
 * Wednesday, a Monday+Tuesday schedule fires next Monday at midnight */
func TestJobScheduleNextRun(t *testing.T) {
	schedule := JobSchedule{
		{DayOfWeek: 1, TimeOfDay: "00:00:00"},
		{DayOfWeek: 2, TimeOfDay: "00:00:00"},
	}

	/* 2024-01-03 is a Wednesday */
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	next := schedule.NextRun(now)
	want := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, next)
	}
}

/* TestJobScheduleNextRunStrictlyFuture checks a slot at the current
 * instant rolls over a full week */
func TestJobScheduleNextRunStrictlyFuture(t *testing.T) {
	schedule := JobSchedule{{DayOfWeek: 1, TimeOfDay: "09:00:00"}}

	/* 2024-01-01 is a Monday */
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	next := schedule.NextRun(now)
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, next)
	}
}

func TestJobScheduleNextRunSameDayLater(t *testing.T) {
	schedule := JobSchedule{{DayOfWeek: 1, TimeOfDay: "18:00:00"}}

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	next := schedule.NextRun(now)
	want := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, next)
	}
}

func TestWorkflowRunStatusTerminal(t *testing.T) {
	terminal := []WorkflowRunStatus{
		RunStatusWaiting, RunStatusPaused, RunStatusFailed, RunStatusComplete, RunStatusCanceled,
	}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Errorf("%s should be terminal for job settlement", status)
		}
	}
	if RunStatusScheduled.Terminal() || RunStatusRunning.Terminal() {
		t.Error("Scheduled and Running are in-flight statuses")
	}
}

func TestEffectiveURL(t *testing.T) {
	cases := []struct {
		base, url, want string
	}{
		{"http://svc:8000/", "/tasks/run", "http://svc:8000/tasks/run"},
		{"http://svc:8000", "tasks/run", "http://svc:8000/tasks/run"},
		{"http://svc:8000//", "//tasks", "http://svc:8000/tasks"},
	}
	for _, tc := range cases {
		if got := EffectiveURL(tc.base, tc.url); got != tc.want {
			t.Errorf("EffectiveURL(%q, %q) = %q, want %q", tc.base, tc.url, got, tc.want)
		}
	}
}

func TestTaskQueuePartitionName(t *testing.T) {
	id := uuid.MustParse("7a1e4b5c-9f1d-4a8e-b2c3-0d9e8f7a6b5c")
	want := "task_queue_7a1e4b5c_9f1d_4a8e_b2c3_0d9e8f7a6b5c"
	if got := taskQueuePartition(id); got != want {
		t.Errorf("partition name %q, want %q", got, want)
	}
}
