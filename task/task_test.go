package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewTask_UnmarshalDeadline(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{`{"description":"a","deadline":"2026-11-01T12:00:00Z"}`, time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)},
		{`{"description":"a","deadline":"2026-11-01T12:00:00"}`, time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)},
		{`{"description":"a","deadline":"2026-11-01"}`, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		var n NewTask
		if err := json.Unmarshal([]byte(tc.in), &n); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tc.in, err)
		}
		if n.Description != "a" {
			t.Errorf("Description = %q, want a", n.Description)
		}
		if n.Deadline == nil || !n.Deadline.Equal(tc.want) {
			t.Errorf("Deadline(%s) = %v, want %v", tc.in, n.Deadline, tc.want)
		}
	}

	var n NewTask
	err := json.Unmarshal([]byte(`{"description":"a","deadline":"next week"}`), &n)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("bad deadline error = %v, want ErrInvalid", err)
	}
}

func TestPatch_IgnoresUnknownFields(t *testing.T) {
	var p Patch
	if err := json.Unmarshal([]byte(`{"priority":2,"id":"task_x","created_at":"bogus"}`), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Priority == nil || *p.Priority != PriorityHigh {
		t.Errorf("Priority = %v, want 2", p.Priority)
	}
	if p.Deadline != nil {
		t.Errorf("Deadline = %v, want nil", p.Deadline)
	}
}

func TestPriority(t *testing.T) {
	if !PriorityCritical.MoreUrgentThan(PriorityLow) {
		t.Error("1 should be more urgent than 4")
	}
	if Priority(0).Valid() || Priority(6).Valid() {
		t.Error("0 and 6 should be invalid")
	}
	if !Status("completed").Valid() || Status("done").Valid() {
		t.Error("status validity mismatch")
	}
}
