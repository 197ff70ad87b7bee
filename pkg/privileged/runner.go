package privileged

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/bootmount/pkg/utils"
)

const (
	// DefaultWaitDelay bounds how long Wait blocks on pipes after the
	// process group has been killed
	DefaultWaitDelay = 5 * time.Second

	// MaxOutputBytes caps the captured script output
	MaxOutputBytes = 64 * 1024
)

// ExitResult describes a process that ran to termination
type ExitResult struct {
	// Command is the rendered command line
	Command string

	// ExitCode is the process exit status, -1 if it was killed by a signal
	ExitCode int

	// Output is the combined stdout/stderr, truncated to MaxOutputBytes
	Output string

	// Duration is the wall time from spawn to termination
	Duration time.Duration
}

// Success reports whether the process exited with status 0
func (r ExitResult) Success() bool {
	return r.ExitCode == 0
}

// Runner executes the privileged mount command and blocks until it ends
type Runner interface {
	// RunPrivileged spawns cmd and waits for it. The returned error wraps
	// utils.ErrSpawnFailed when the process never started and
	// utils.ErrRunTimeout when ctx expired first.
	RunPrivileged(ctx context.Context, cmd Command) (ExitResult, error)
}

// ExecRunner implements Runner with os/exec
type ExecRunner struct {
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	waitDelay   time.Duration
}

// NewExecRunner creates a runner that spawns real processes
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		execCommand: exec.CommandContext,
		waitDelay:   DefaultWaitDelay,
	}
}

// RunPrivileged spawns the command in its own process group so that the
// whole group (elevator, shell, mount helpers) can be killed on timeout.
func (r *ExecRunner) RunPrivileged(ctx context.Context, c Command) (ExitResult, error) {
	name, args := c.Argv()
	result := ExitResult{Command: c.String(), ExitCode: -1}

	cmd := r.execCommand(ctx, name, args...)
	configureProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = r.waitDelay

	out := &limitedBuffer{limit: MaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	klog.V(4).Infof("Spawning %s", result.Command)
	start := time.Now()

	// A context that is already done never spawns anything
	select {
	case <-ctx.Done():
		return result, contextError(ctx, 0)
	default:
	}

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return result, contextError(ctx, time.Since(start))
		}
		return result, fmt.Errorf("%w: %s: %v", utils.ErrSpawnFailed, name, err)
	}
	klog.V(2).Infof("Started mount command (pid %d)", cmd.Process.Pid)

	waitErr := cmd.Wait()
	result.Duration = time.Since(start)
	result.Output = out.String()
	klog.V(5).Infof("Mount command output: %s", result.Output)

	// A process that exited on its own reports its status, even when the
	// deadline expired while Wait was returning
	if state := cmd.ProcessState; state != nil && state.Exited() {
		result.ExitCode = state.ExitCode()
		if waitErr != nil && !errors.As(waitErr, new(*exec.ExitError)) {
			klog.Warningf("Mount command exited with status %d but Wait failed: %v", result.ExitCode, waitErr)
		}
		klog.V(2).Infof("Mount command exited with status %d after %v", result.ExitCode, result.Duration)
		return result, nil
	}

	if ctx.Err() != nil {
		return result, contextError(ctx, result.Duration)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Killed by a signal nobody asked for
			result.ExitCode = exitErr.ExitCode()
			klog.V(2).Infof("Mount command terminated by %s after %v", exitErr.ProcessState, result.Duration)
			return result, nil
		}
		return result, fmt.Errorf("failed waiting for mount command: %w", waitErr)
	}

	return result, errors.New("mount command ended without an exit status")
}

// contextError classifies why ctx ended a run
func contextError(ctx context.Context, elapsed time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", utils.ErrRunTimeout, elapsed.Round(time.Millisecond))
	}
	return fmt.Errorf("mount command cancelled: %w", ctx.Err())
}

// limitedBuffer keeps the first limit bytes written to it and discards the rest
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// Report the full length so the writer never sees a short write
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
