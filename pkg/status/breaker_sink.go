package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"k8s.io/klog/v2"
)

const (
	// DefaultConsecutiveFailures is the number of failures before the breaker opens
	DefaultConsecutiveFailures = 3

	// DefaultBreakerTimeout is how long the breaker stays open before a trial update
	DefaultBreakerTimeout = 1 * time.Minute
)

// ErrSinkUnavailable is returned while the breaker is open
var ErrSinkUnavailable = errors.New("status sink unavailable")

// BreakerSink skips a repeatedly failing sink instead of stalling every run
// on it. Remote sinks (API servers) are wrapped with this; local ones are not.
type BreakerSink struct {
	name string
	sink Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSink wraps sink with a circuit breaker
func NewBreakerSink(name string, sink Sink, timeout time.Duration) *BreakerSink {
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // Only 1 update allowed in half-open state
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= DefaultConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			klog.Infof("Circuit breaker for status sink %s: %s -> %s", name, from, to)
		},
	}

	return &BreakerSink{
		name: name,
		sink: sink,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Update forwards to the wrapped sink unless the breaker is open
func (b *BreakerSink) Update(ctx context.Context, ind Indicator) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.sink.Update(ctx, ind)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		klog.V(4).Infof("Skipping status sink %s (%s): %s", b.name, b.cb.State(), ind)
		return fmt.Errorf("%w: %s is %s", ErrSinkUnavailable, b.name, b.cb.State())
	}
	return err
}

// State returns the breaker state ("closed", "half-open", "open")
func (b *BreakerSink) State() string {
	return b.cb.State().String()
}
