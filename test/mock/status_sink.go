package mock

import (
	"context"
	"sync"

	"git.srvlab.io/whiskey/bootmount/pkg/status"
)

// MockSink is a mock implementation of status.Sink for testing.
// It keeps both the full update history and the current slot per id.
type MockSink struct {
	mu sync.Mutex

	history []status.Indicator
	slots   map[string]status.Indicator

	// Error injection
	updateErr error
	failAfter int
	panicVal  interface{}
}

// NewMockSink creates an empty sink
func NewMockSink() *MockSink {
	return &MockSink{slots: make(map[string]status.Indicator)}
}

// Update implements status.Sink
func (m *MockSink) Update(_ context.Context, ind status.Indicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.panicVal != nil {
		panic(m.panicVal)
	}

	m.history = append(m.history, ind)

	if m.updateErr != nil && len(m.history) > m.failAfter {
		return m.updateErr
	}

	m.slots[ind.ID] = ind
	return nil
}

// SetUpdateError makes every update after the first n fail with err.
// Failed updates are still recorded in the history.
func (m *MockSink) SetUpdateError(err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
	m.failAfter = n
}

// SetPanic makes subsequent updates panic with v
func (m *MockSink) SetPanic(v interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicVal = v
}

// History returns every update received, in order
func (m *MockSink) History() []status.Indicator {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := make([]status.Indicator, len(m.history))
	copy(h, m.history)
	return h
}

// Current returns the indicator stored under id
func (m *MockSink) Current(id string) (status.Indicator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ind, ok := m.slots[id]
	return ind, ok
}

// SlotCount returns the number of distinct indicator ids stored
func (m *MockSink) SlotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
