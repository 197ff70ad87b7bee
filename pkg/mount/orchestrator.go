package mount

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/bootmount/pkg/audit"
	"git.srvlab.io/whiskey/bootmount/pkg/observability"
	"git.srvlab.io/whiskey/bootmount/pkg/privileged"
	"git.srvlab.io/whiskey/bootmount/pkg/status"
	"git.srvlab.io/whiskey/bootmount/pkg/utils"
)

const (
	// DefaultRunTimeout bounds a single run of the mount script
	DefaultRunTimeout = 5 * time.Minute

	// StatusUpdateTimeout bounds each indicator update. Updates use a context
	// detached from the run so the terminal update survives a run timeout.
	StatusUpdateTimeout = 30 * time.Second
)

// Policy decides how a non-zero exit of the mount script is reported
type Policy int

const (
	// PolicyStrict reports non-zero exit and missing mounts as failures
	PolicyStrict Policy = iota

	// PolicyLenient reports "completed" whenever the script terminated
	PolicyLenient
)

func (p Policy) String() string {
	if p == PolicyLenient {
		return "lenient"
	}
	return "strict"
}

// Outcome classifies how a run ended
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeSpawnFailed Outcome = "spawn-failed"
	OutcomeTimedOut    Outcome = "timed-out"
)

// TerminalStatus is the result of one mount run
type TerminalStatus struct {
	// RunID correlates logs, audit events and metrics for the run
	RunID string

	Outcome Outcome

	// ExitCode is the script exit status, -1 if it never exited on its own
	ExitCode int

	// Err is the underlying failure, nil for a completed run
	Err error

	// Reason is the short failure text shown on the indicator
	Reason string

	Duration time.Duration

	// Indicator is the terminal indicator posted for the run
	Indicator status.Indicator
}

// Config holds the collaborators of an Orchestrator
type Config struct {
	Command privileged.Command
	Runner  privileged.Runner
	Sink    status.Sink

	Policy Policy

	// Timeout bounds the mount command; zero disables the deadline
	Timeout time.Duration

	// ExpectedMounts are mount points that must exist after a clean exit
	ExpectedMounts []string

	// MountLister reads the mount table; defaults to ListMountsWithTimeout
	MountLister MountLister

	// Metrics and Audit are optional
	Metrics *observability.Metrics
	Audit   *audit.Logger
}

// Orchestrator runs the mount command with before/after status updates
type Orchestrator struct {
	cmd      privileged.Command
	runner   privileged.Runner
	sink     status.Sink
	policy   Policy
	timeout  time.Duration
	expected []string
	lister   MountLister
	metrics  *observability.Metrics
	audit    *audit.Logger

	// mu serialises runs; the indicator slot has a single writer at a time
	mu sync.Mutex
}

// NewOrchestrator validates cfg and creates an Orchestrator
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Command.Script == "" {
		return nil, fmt.Errorf("mount command is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative: %v", cfg.Timeout)
	}

	expected := make([]string, 0, len(cfg.ExpectedMounts))
	for _, p := range cfg.ExpectedMounts {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("expected mount must be an absolute path: %s", p)
		}
		expected = append(expected, filepath.Clean(p))
	}

	o := &Orchestrator{
		cmd:      cfg.Command,
		runner:   cfg.Runner,
		sink:     cfg.Sink,
		policy:   cfg.Policy,
		timeout:  cfg.Timeout,
		expected: expected,
		lister:   cfg.MountLister,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
	}
	if o.sink == nil {
		o.sink = status.NewLogSink()
	}
	if o.lister == nil {
		o.lister = ListMountsWithTimeout
	}
	if o.audit == nil {
		o.audit = audit.GetLogger()
	}
	return o, nil
}

// RunMount performs one start -> spawn -> wait -> terminal cycle. It never
// panics and never returns an error; every failure is folded into the
// returned TerminalStatus and the terminal indicator.
func (o *Orchestrator) RunMount(ctx context.Context) TerminalStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	runID := uuid.NewString()
	start := time.Now()
	klog.V(2).Infof("Mount run %s starting: %s (policy=%s, timeout=%v)", runID, o.cmd, o.policy, o.timeout)

	if o.metrics != nil {
		o.metrics.RecordRunStart()
	}

	o.post(ctx, "starting", status.Starting())

	ts := o.execute(ctx, runID)
	ts.RunID = runID
	ts.Duration = time.Since(start)
	ts.Indicator = o.indicatorFor(ts)

	o.post(ctx, "terminal", ts.Indicator)

	if o.metrics != nil {
		o.metrics.RecordRun(string(ts.Outcome), ts.ExitCode, ts.Duration)
	}

	if ts.Outcome == OutcomeCompleted {
		klog.V(2).Infof("Mount run %s completed in %v", runID, ts.Duration)
	} else {
		klog.Errorf("Mount run %s %s after %v: %s", runID, ts.Outcome, ts.Duration, ts.Indicator.Body)
		utils.LogErrorDetails("Mount run "+runID, ts.Err)
	}
	return ts
}

// execute spawns the mount command and classifies the result
func (o *Orchestrator) execute(ctx context.Context, runID string) (ts TerminalStatus) {
	ts.ExitCode = -1

	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Recovered panic in mount run %s: %v", runID, r)
			ts.Outcome = OutcomeFailed
			ts.Err = fmt.Errorf("panic during mount run: %v", r)
			ts.Reason = "internal error"
		}
	}()

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	o.audit.LogExecAttempt(runID, string(o.cmd.Elevator), o.cmd.Script, o.cmd.String())
	res, err := o.runner.RunPrivileged(runCtx, o.cmd)
	o.audit.LogExecResult(runID, string(o.cmd.Elevator), o.cmd.Script, res.ExitCode, res.Duration, err)

	ts.ExitCode = res.ExitCode
	if err != nil {
		ts.Err = err
		switch {
		case errors.Is(err, utils.ErrSpawnFailed):
			ts.Outcome = OutcomeSpawnFailed
			ts.Reason = utils.GetSanitizedMessage(err)
		case errors.Is(err, utils.ErrRunTimeout):
			ts.Outcome = OutcomeTimedOut
			ts.Reason = fmt.Sprintf("timed out after %v", o.timeout)
		default:
			ts.Outcome = OutcomeFailed
			ts.Reason = utils.GetSanitizedMessage(err)
		}
		return ts
	}

	if res.ExitCode != 0 {
		exitErr := fmt.Errorf("%w: exit status %d", utils.ErrNonZeroExit, res.ExitCode)
		if o.policy == PolicyStrict {
			ts.Outcome = OutcomeFailed
			ts.Err = exitErr
			ts.Reason = fmt.Sprintf("exit status %d", res.ExitCode)
			return ts
		}
		klog.Warningf("Mount run %s: %v, reporting completed (lenient policy)", runID, exitErr)
		ts.Outcome = OutcomeCompleted
		return ts
	}

	ts.Outcome = OutcomeCompleted
	o.verify(ctx, runID, &ts)
	return ts
}

// verify checks the expected mount points after a clean exit
func (o *Orchestrator) verify(ctx context.Context, runID string, ts *TerminalStatus) {
	if len(o.expected) == 0 {
		return
	}

	missing, err := FindMissingMounts(ctx, o.lister, o.expected)
	if err != nil {
		if o.policy == PolicyStrict {
			ts.Outcome = OutcomeFailed
			ts.Err = err
			ts.Reason = "cannot verify mounts"
			return
		}
		klog.Warningf("Mount run %s: %v", runID, err)
		return
	}

	if len(missing) == 0 {
		klog.V(4).Infof("Mount run %s: all %d expected mounts present", runID, len(o.expected))
		return
	}

	if o.metrics != nil {
		o.metrics.RecordMissingMounts(len(missing))
	}

	missingErr := fmt.Errorf("%w: %s", utils.ErrMountMissing, strings.Join(missing, ", "))
	if o.policy == PolicyStrict {
		ts.Outcome = OutcomeFailed
		ts.Err = missingErr
		ts.Reason = "missing mounts: " + strings.Join(missing, ", ")
		return
	}
	klog.Warningf("Mount run %s: %v", runID, missingErr)
}

// indicatorFor maps a terminal status onto the indicator shown to the user
func (o *Orchestrator) indicatorFor(ts TerminalStatus) status.Indicator {
	if ts.Outcome == OutcomeCompleted {
		return status.Completed()
	}
	return status.Failed(ts.Reason)
}

// post updates the indicator. A sink failure is logged and counted but never
// stops the run.
func (o *Orchestrator) post(ctx context.Context, phase string, ind status.Indicator) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), StatusUpdateTimeout)
	defer cancel()

	err := o.safeUpdate(ctx, ind)
	if err != nil {
		klog.Warningf("Failed to post %s status %s: %v", phase, ind, err)
	}
	if o.metrics != nil {
		o.metrics.RecordStatusUpdate(phase, err)
	}
}

// safeUpdate shields the run from a panicking sink
func (o *Orchestrator) safeUpdate(ctx context.Context, ind status.Indicator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sink panicked: %v", utils.ErrStatusUpdate, r)
		}
	}()
	if err := o.sink.Update(ctx, ind); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrStatusUpdate, err)
	}
	return nil
}
