// Package trigger binds startup events to the mount orchestrator.
package trigger

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

const (
	// SourceBoot marks the event delivered when the process starts at boot
	SourceBoot = "boot"

	// SourceSignal marks events delivered by a re-trigger signal
	SourceSignal = "signal"

	// DefaultSignalInterval is the minimum spacing of signal-triggered runs
	DefaultSignalInterval = 2 * time.Second
)

// Event is a startup event. It carries nothing beyond where it came from.
type Event struct {
	Source     string
	ReceivedAt time.Time
}

// Handler is invoked once per event
type Handler func(ctx context.Context, ev Event)

// Listener delivers startup events to a handler
type Listener interface {
	Listen(ctx context.Context, h Handler) error
}

// BootListener delivers exactly one boot event per Listen call. The init
// system starts the process at boot, so process start is the boot event.
type BootListener struct{}

// NewBootListener creates a listener for the process start event
func NewBootListener() *BootListener {
	return &BootListener{}
}

// Listen invokes h once and returns
func (l *BootListener) Listen(ctx context.Context, h Handler) error {
	h(ctx, Event{Source: SourceBoot, ReceivedAt: time.Now()})
	return nil
}

// SignalListener delivers an event per re-trigger signal (SIGUSR1 by
// default) until its context ends. Bursts of signals are spaced out by a
// rate limiter; every signal still produces a run.
type SignalListener struct {
	signals []os.Signal
	limiter *rate.Limiter

	once  sync.Once
	sigCh chan os.Signal

	notify func(c chan<- os.Signal, sig ...os.Signal)
	stop   func(c chan<- os.Signal)
}

// NewSignalListener creates a listener for the given signals.
// interval <= 0 uses DefaultSignalInterval.
func NewSignalListener(interval time.Duration, signals ...os.Signal) *SignalListener {
	if interval <= 0 {
		interval = DefaultSignalInterval
	}
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGUSR1}
	}
	return &SignalListener{
		signals: signals,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		notify:  signal.Notify,
		stop:    signal.Stop,
	}
}

// Register starts capturing signals without delivering them. Signals that
// arrive before Listen are queued and delivered once it runs, so call
// Register before any work that a signal may arrive during.
func (l *SignalListener) Register() {
	l.once.Do(func() {
		l.sigCh = make(chan os.Signal, 8)
		l.notify(l.sigCh, l.signals...)
		klog.V(4).Infof("Registered for signals %v", l.signals)
	})
}

// Listen blocks until ctx is done, invoking h once per received signal
func (l *SignalListener) Listen(ctx context.Context, h Handler) error {
	l.Register()
	sigCh := l.sigCh
	defer l.stop(sigCh)

	klog.V(2).Infof("Waiting for re-trigger signals %v", l.signals)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			received := time.Now()
			if err := l.limiter.Wait(ctx); err != nil {
				// Context ended while waiting for a slot
				return nil
			}
			klog.V(2).Infof("Received %s, triggering mount run", sig)
			h(ctx, Event{Source: SourceSignal, ReceivedAt: received})
		}
	}
}
