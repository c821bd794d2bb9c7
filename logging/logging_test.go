package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	// Info should pass
	logger.Info("info message")
	if buf.Len() == 0 {
		t.Error("info message should be logged")
	}

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("lifecycle")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[lifecycle]") {
		t.Errorf("expected component 'lifecycle' in log, got: %s", output)
	}
}

func TestLogger_WithTaskID(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithTaskID("task-42")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "task=task-42") {
		t.Errorf("expected task ID in log, got: %s", output)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("msg", map[string]interface{}{"checkpoint": "cp-1"})

	output := buf.String()
	if !strings.Contains(output, "checkpoint=cp-1") {
		t.Errorf("expected field in log, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"garbage", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_EventMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("checkpoint")
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.TransitionStart("t1", "pending", "running")
	logger.TransitionComplete("t1", "running", 5*time.Millisecond)
	logger.HookError("after-start", "h1", fmt.Errorf("boom"))
	logger.CheckpointCreated("t1", "cp-1", 1024)
	logger.CheckpointRotated("t1", 3, "keep_last_n")
	logger.SnapshotCreated("t1", "snap-1", 12)
	logger.StorageWarning("ceiling exceeded", map[string]interface{}{"bytes": 999})

	output := buf.String()
	for _, want := range []string{
		"transition_start", "transition_complete", "hook_error",
		"checkpoint_created", "checkpoint_rotated", "snapshot_created",
		"ceiling exceeded",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	// Must not panic and must stay silent
	logger.Error("ignored")
}
