package audit

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"git.srvlab.io/whiskey/bootmount/pkg/utils"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventPrivilegedExecAttempt, SeverityInfo, "Test message")

	if event.EventType != EventPrivilegedExecAttempt {
		t.Errorf("Expected EventType %s, got %s", EventPrivilegedExecAttempt, event.EventType)
	}
	if event.Severity != SeverityInfo {
		t.Errorf("Expected Severity %s, got %s", SeverityInfo, event.Severity)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected Timestamp to be set, got zero time")
	}
	if event.Details == nil {
		t.Error("Expected Details map to be initialized")
	}
}

func TestEvent_WithMethods(t *testing.T) {
	event := NewEvent(EventPrivilegedExecSuccess, SeverityInfo, "Test").
		WithOutcome(OutcomeSuccess).
		WithRun("run-1").
		WithCommand("su", "/etc/bootmount/mountall.sh", "su -c 'sh /etc/bootmount/mountall.sh'").
		WithExit(0, 1500*time.Millisecond).
		WithError(errors.New("boom")).
		WithDetail("source", "boot")

	if event.Outcome != OutcomeSuccess {
		t.Errorf("Expected Outcome %s, got %s", OutcomeSuccess, event.Outcome)
	}
	if event.RunID != "run-1" || event.Elevator != "su" {
		t.Errorf("WithRun/WithCommand failed: %+v", event)
	}
	if event.ExitCode == nil || *event.ExitCode != 0 {
		t.Errorf("Expected ExitCode 0, got %v", event.ExitCode)
	}
	if event.Error != "boom" {
		t.Errorf("Expected Error 'boom', got %q", event.Error)
	}
	if event.Details["source"] != "boot" {
		t.Errorf("Expected detail source=boot, got %v", event.Details)
	}
}

func TestFormatLogMessage(t *testing.T) {
	l := NewLogger()
	event := NewEvent(EventPrivilegedExecFailure, SeverityWarning, "exited non-zero").
		WithOutcome(OutcomeFailure).
		WithRun("run-2").
		WithCommand("sudo", "/etc/bootmount/mountall.sh", "").
		WithExit(3, 2*time.Second).
		WithDetail("b", "2").
		WithDetail("a", "1")

	msg := l.formatLogMessage(event)
	for _, want := range []string{
		"[AUDIT]",
		"type=privileged_exec_failure",
		"severity=warning",
		"outcome=failure",
		"run_id=run-2",
		"elevator=sudo",
		"exit_code=3",
		"duration_ms=2000",
		`a="1" b="2"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("log message %q missing %q", msg, want)
		}
	}
}

func TestLogExecResult_Classification(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		err      error
		expected EventType
	}{
		{"success", 0, nil, EventPrivilegedExecSuccess},
		{"non-zero", 1, nil, EventPrivilegedExecFailure},
		{"denied", -1, fmt.Errorf("%w: su: permission denied", utils.ErrSpawnFailed), EventPrivilegedExecDenied},
		{"timeout", -1, fmt.Errorf("%w after 5m", utils.ErrRunTimeout), EventPrivilegedExecTimeout},
		{"aborted", -1, errors.New("cancelled"), EventPrivilegedExecFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLogger()
			l.LogExecResult("run", "su", "/etc/bootmount/mountall.sh", tt.exitCode, time.Second, tt.err)
			if got := l.Count(tt.expected); got != 1 {
				t.Errorf("expected one %s event, got %d", tt.expected, got)
			}
		})
	}
}

func TestGetLogger_Singleton(t *testing.T) {
	if GetLogger() != GetLogger() {
		t.Error("GetLogger should return the same instance")
	}
	before := GetLogger().Count(EventPrivilegedExecAttempt)
	GetLogger().LogExecAttempt("run", "su", "/etc/bootmount/mountall.sh", "su -c 'sh /etc/bootmount/mountall.sh'")
	if got := GetLogger().Count(EventPrivilegedExecAttempt); got != before+1 {
		t.Errorf("expected attempt count %d, got %d", before+1, got)
	}
}
