package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/bootmount/pkg/utils"
)

// Logger writes audit events to the klog stream
type Logger struct {
	mu     sync.Mutex
	counts map[EventType]int
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the process-wide audit logger
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = NewLogger()
	})
	return globalLogger
}

// NewLogger creates a new audit logger
func NewLogger() *Logger {
	return &Logger{counts: make(map[EventType]int)}
}

// severityMap maps EventSeverity to a klog function
var severityMap = map[EventSeverity]func(args ...interface{}){
	SeverityInfo:     func(args ...interface{}) { klog.V(2).Info(args...) },
	SeverityWarning:  klog.Warning,
	SeverityError:    klog.Error,
	SeverityCritical: klog.Error,
}

// LogEvent logs an audit event
func (l *Logger) LogEvent(event *Event) {
	l.mu.Lock()
	l.counts[event.EventType]++
	l.mu.Unlock()

	logFunc, ok := severityMap[event.Severity]
	if !ok {
		logFunc = severityMap[SeverityInfo]
	}
	logFunc(l.formatLogMessage(event))

	// Critical events also go out as JSON for log shippers
	if event.Severity == SeverityCritical {
		if jsonBytes, err := json.Marshal(event); err == nil {
			klog.Errorf("CRITICAL_AUDIT_EVENT: %s", string(jsonBytes))
		}
	}
}

// Count returns how many events of a type were logged
func (l *Logger) Count(eventType EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[eventType]
}

// formatLogMessage formats an audit event as a key=value log line
func (l *Logger) formatLogMessage(event *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[AUDIT] type=%s severity=%s", event.EventType, event.Severity)
	if event.Outcome != "" {
		fmt.Fprintf(&b, " outcome=%s", event.Outcome)
	}
	fmt.Fprintf(&b, " msg=%q", event.Message)

	if event.RunID != "" {
		fmt.Fprintf(&b, " run_id=%s", event.RunID)
	}
	if event.Elevator != "" {
		fmt.Fprintf(&b, " elevator=%s", event.Elevator)
	}
	if event.Script != "" {
		fmt.Fprintf(&b, " script=%s", event.Script)
	}
	if event.ExitCode != nil {
		fmt.Fprintf(&b, " exit_code=%d", *event.ExitCode)
	}
	if event.Duration > 0 {
		fmt.Fprintf(&b, " duration_ms=%d", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		fmt.Fprintf(&b, " error=%q", event.Error)
	}

	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, event.Details[k])
	}
	return b.String()
}

// LogExecAttempt records that root is about to be requested
func (l *Logger) LogExecAttempt(runID, elevator, script, command string) {
	l.LogEvent(NewEvent(EventPrivilegedExecAttempt, SeverityInfo, "Requesting elevated execution of mount script").
		WithRun(runID).
		WithCommand(elevator, script, command))
}

// LogExecResult records how the elevated command ended. err is the runner
// error, nil when the process exited on its own.
func (l *Logger) LogExecResult(runID, elevator, script string, exitCode int, duration time.Duration, err error) {
	var event *Event
	switch {
	case errors.Is(err, utils.ErrSpawnFailed):
		event = NewEvent(EventPrivilegedExecDenied, SeverityCritical, "Elevated execution could not start").
			WithOutcome(OutcomeDenied)
	case errors.Is(err, utils.ErrRunTimeout):
		event = NewEvent(EventPrivilegedExecTimeout, SeverityError, "Elevated execution killed after timeout").
			WithOutcome(OutcomeTimeout)
	case err != nil:
		event = NewEvent(EventPrivilegedExecFailure, SeverityError, "Elevated execution aborted").
			WithOutcome(OutcomeFailure)
	case exitCode != 0:
		event = NewEvent(EventPrivilegedExecFailure, SeverityWarning, "Elevated execution exited non-zero").
			WithOutcome(OutcomeFailure).
			WithExit(exitCode, duration)
	default:
		event = NewEvent(EventPrivilegedExecSuccess, SeverityInfo, "Elevated execution finished").
			WithOutcome(OutcomeSuccess).
			WithExit(exitCode, duration)
	}

	l.LogEvent(event.
		WithRun(runID).
		WithCommand(elevator, script, "").
		WithError(err))
}
