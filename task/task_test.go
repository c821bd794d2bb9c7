package task

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusRunning, false},
		{StatusCompleted, StatusCancelled, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusRunning.Valid() {
		t.Error("running should be valid")
	}
	if Status("exploded").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		ID:        "t1",
		Name:      "build",
		Status:    StatusRunning,
		Owner:     "alice",
		AgentID:   "agent1",
		Metadata:  map[string]any{"attempt": 1},
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now(),
	}

	clone := orig.Clone()
	if clone == orig {
		t.Fatal("Clone should return a new value")
	}
	if clone.ID != orig.ID || clone.Name != orig.Name || clone.Status != orig.Status {
		t.Error("clone fields should match")
	}

	// Mutating the clone's metadata must not leak into the original
	clone.Metadata["attempt"] = 2
	if orig.Metadata["attempt"] != 1 {
		t.Error("clone metadata should be independent")
	}
}

func TestTaskCloneNilMetadata(t *testing.T) {
	clone := (&Task{ID: "t1"}).Clone()
	if clone.Metadata != nil {
		t.Error("nil metadata should stay nil")
	}
}
