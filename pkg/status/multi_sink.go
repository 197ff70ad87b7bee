package status

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"
)

// MultiSink fans an update out to every configured sink
type MultiSink struct {
	sinks []namedSink
}

type namedSink struct {
	name string
	sink Sink
}

// NewMultiSink creates an empty fan-out sink
func NewMultiSink() *MultiSink {
	return &MultiSink{}
}

// Add registers a sink under a name used in logs and errors
func (m *MultiSink) Add(name string, sink Sink) *MultiSink {
	m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	return m
}

// Len returns the number of registered sinks
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Update writes ind to every sink. A failing sink does not stop the others;
// all failures are joined into the returned error.
func (m *MultiSink) Update(ctx context.Context, ind Indicator) error {
	var errs []error
	for _, ns := range m.sinks {
		if err := ns.sink.Update(ctx, ind); err != nil {
			klog.Warningf("Status sink %s failed to show %s: %v", ns.name, ind, err)
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
		}
	}
	return errors.Join(errs...)
}
