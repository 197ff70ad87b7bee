package status

import (
	"context"

	"k8s.io/klog/v2"
)

// LogSink writes indicator transitions to the klog stream. It never fails.
type LogSink struct{}

// NewLogSink creates a sink backed by klog
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Update logs the indicator
func (s *LogSink) Update(_ context.Context, ind Indicator) error {
	switch {
	case ind.Ongoing:
		klog.V(2).InfoS("Status indicator", "id", ind.ID, "title", ind.Title, "body", ind.Body, "ongoing", true)
	case ind.IsFailure():
		klog.ErrorS(nil, "Status indicator", "id", ind.ID, "title", ind.Title, "body", ind.Body, "ongoing", false)
	default:
		klog.InfoS("Status indicator", "id", ind.ID, "title", ind.Title, "body", ind.Body, "ongoing", false)
	}
	return nil
}
