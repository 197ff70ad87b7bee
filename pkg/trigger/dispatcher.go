package trigger

import (
	"context"
	"runtime/debug"
	"sync"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/bootmount/pkg/observability"
)

// Dispatcher adapts a handler for a lifecycle callback. A handler panic is
// recovered and logged so that it never reaches the event source.
type Dispatcher struct {
	handler Handler
	async   bool
	metrics *observability.Metrics

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. With async set, Dispatch returns
// immediately and the handler runs on its own goroutine; Wait joins it.
func NewDispatcher(h Handler, async bool, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{handler: h, async: async, metrics: metrics}
}

// Dispatch delivers ev to the handler
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	klog.V(2).Infof("Dispatching %s event", ev.Source)
	if d.metrics != nil {
		d.metrics.RecordTrigger(ev.Source)
	}

	if !d.async {
		d.invoke(ctx, ev)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.invoke(ctx, ev)
	}()
}

// Handler returns Dispatch as a Handler, for passing to a Listener
func (d *Dispatcher) Handler() Handler {
	return d.Dispatch
}

// Wait blocks until all asynchronously dispatched handlers have returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) invoke(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Recovered panic handling %s event: %v\n%s", ev.Source, r, debug.Stack())
		}
	}()
	d.handler(ctx, ev)
}
