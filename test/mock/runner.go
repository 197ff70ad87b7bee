package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.srvlab.io/whiskey/bootmount/pkg/privileged"
	"git.srvlab.io/whiskey/bootmount/pkg/utils"
)

// MockRunner is a mock implementation of privileged.Runner for testing
type MockRunner struct {
	mu sync.Mutex

	// Result returned by every call unless error injection applies
	exitCode int
	output   string
	delay    time.Duration

	// Error injection
	spawnErr error
	panicVal interface{}

	// Call tracking
	calls  []privileged.Command
	active int
	peak   int

	// OnRun, when set, is called at the start of each run
	OnRun func()
}

// NewMockRunner creates a runner whose command exits 0 immediately
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// RunPrivileged implements privileged.Runner
func (m *MockRunner) RunPrivileged(ctx context.Context, cmd privileged.Command) (privileged.ExitResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	exitCode, output, delay := m.exitCode, m.output, m.delay
	spawnErr, panicVal, onRun := m.spawnErr, m.panicVal, m.OnRun
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if onRun != nil {
		onRun()
	}

	result := privileged.ExitResult{Command: cmd.String(), ExitCode: -1}

	if panicVal != nil {
		panic(panicVal)
	}

	if spawnErr != nil {
		return result, fmt.Errorf("%w: %v", utils.ErrSpawnFailed, spawnErr)
	}

	start := time.Now()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.Duration = time.Since(start)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return result, fmt.Errorf("%w after %v", utils.ErrRunTimeout, result.Duration)
			}
			return result, fmt.Errorf("mount command cancelled: %w", ctx.Err())
		}
	}

	result.ExitCode = exitCode
	result.Output = output
	result.Duration = time.Since(start)
	return result, nil
}

// Test helper methods

// SetExit sets the exit code and output of subsequent runs
func (m *MockRunner) SetExit(code int, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitCode = code
	m.output = output
}

// SetDelay makes each run block for d (or until its context ends)
func (m *MockRunner) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetSpawnError makes subsequent runs fail before any process starts
func (m *MockRunner) SetSpawnError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawnErr = err
}

// SetPanic makes subsequent runs panic with v
func (m *MockRunner) SetPanic(v interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicVal = v
}

// ClearErrors clears all error injection
func (m *MockRunner) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawnErr = nil
	m.panicVal = nil
}

// GetCalls returns the history of RunPrivileged calls
func (m *MockRunner) GetCalls() []privileged.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]privileged.Command, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// PeakConcurrency returns the largest number of simultaneous runs observed
func (m *MockRunner) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}
