// Package audit records privilege escalation performed by bootmount.
package audit

import "time"

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	// SeverityInfo represents informational events
	SeverityInfo EventSeverity = "info"

	// SeverityWarning represents warning events
	SeverityWarning EventSeverity = "warning"

	// SeverityError represents error events
	SeverityError EventSeverity = "error"

	// SeverityCritical represents events that need an operator
	SeverityCritical EventSeverity = "critical"
)

// EventOutcome represents the outcome of an audited action
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
	OutcomeTimeout EventOutcome = "timeout"
)

// EventType represents specific types of audit events
type EventType string

const (
	EventPrivilegedExecAttempt EventType = "privileged_exec_attempt"
	EventPrivilegedExecSuccess EventType = "privileged_exec_success"
	EventPrivilegedExecFailure EventType = "privileged_exec_failure"
	EventPrivilegedExecDenied  EventType = "privileged_exec_denied"
	EventPrivilegedExecTimeout EventType = "privileged_exec_timeout"
)

// Event is one audited action
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Severity  EventSeverity `json:"severity"`
	Outcome   EventOutcome  `json:"outcome,omitempty"`
	Message   string        `json:"message"`

	RunID    string `json:"run_id,omitempty"`
	Elevator string `json:"elevator,omitempty"`
	Script   string `json:"script,omitempty"`
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`

	Duration time.Duration     `json:"duration_ms,omitempty"`
	Error    string            `json:"error,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// NewEvent creates a new audit event with timestamp
func NewEvent(eventType EventType, severity EventSeverity, message string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		Message:   message,
		Details:   make(map[string]string),
	}
}

// WithOutcome sets the outcome for the event
func (e *Event) WithOutcome(outcome EventOutcome) *Event {
	e.Outcome = outcome
	return e
}

// WithRun sets the run the event belongs to
func (e *Event) WithRun(runID string) *Event {
	e.RunID = runID
	return e
}

// WithCommand sets the elevated command
func (e *Event) WithCommand(elevator, script, command string) *Event {
	e.Elevator = elevator
	e.Script = script
	e.Command = command
	return e
}

// WithExit sets the exit code and duration of the command
func (e *Event) WithExit(code int, duration time.Duration) *Event {
	e.ExitCode = &code
	e.Duration = duration
	return e
}

// WithError sets error information
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDetail adds a custom detail field
func (e *Event) WithDetail(key, value string) *Event {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
