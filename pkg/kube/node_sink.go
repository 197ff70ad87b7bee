// Package kube publishes the mount status indicator on the local Node object.
package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/bootmount/pkg/status"
)

// Event reasons - use consistent naming for filtering
const (
	EventReasonMountCompleted = "MountCompleted"
	EventReasonMountFailed    = "MountFailed"
)

const (
	// AnnotationPrefix namespaces the indicator annotations on the Node
	AnnotationPrefix = "bootmount.srvlab.io/"

	// MaxPatchRetries bounds retries of a transient API failure
	MaxPatchRetries = 4

	// EventComponent is the event source component
	EventComponent = "bootmount"

	// EventFlushTimeout bounds how long Close waits for queued events
	EventFlushTimeout = 10 * time.Second
)

// AnnotationKey returns the Node annotation holding indicator id
func AnnotationKey(id string) string {
	return AnnotationPrefix + id
}

// NodeSink stores the indicator as a Node annotation and records a Node
// event for terminal states
type NodeSink struct {
	clientset kubernetes.Interface
	nodeName  string
	recorder  record.EventRecorder

	// Set when events go through a broadcaster that must be drained
	broadcaster record.EventBroadcaster
	events      *eventSinkAdapter
	posted      atomic.Int64

	initialInterval time.Duration
	maxInterval     time.Duration
}

// eventSinkAdapter adapts the EventInterface to record.EventSink
// record.EventSink has methods without context, but EventInterface requires context
// It also counts events that reached the API server so Close can drain them.
type eventSinkAdapter struct {
	eventInterface typedcorev1.EventInterface
	delivered      atomic.Int64
}

func (a *eventSinkAdapter) Create(event *corev1.Event) (*corev1.Event, error) {
	return a.count(a.eventInterface.Create(context.Background(), event, metav1.CreateOptions{}))
}

func (a *eventSinkAdapter) Update(event *corev1.Event) (*corev1.Event, error) {
	return a.count(a.eventInterface.Update(context.Background(), event, metav1.UpdateOptions{}))
}

func (a *eventSinkAdapter) Patch(event *corev1.Event, data []byte) (*corev1.Event, error) {
	return a.count(a.eventInterface.Patch(context.Background(), event.Name, types.StrategicMergePatchType, data, metav1.PatchOptions{}))
}

func (a *eventSinkAdapter) count(ev *corev1.Event, err error) (*corev1.Event, error) {
	if err == nil {
		a.delivered.Add(1)
	}
	return ev, err
}

// NewNodeSink creates a sink for nodeName, recording events through a
// broadcaster into the default namespace
func NewNodeSink(clientset kubernetes.Interface, nodeName string) *NodeSink {
	events := &eventSinkAdapter{
		eventInterface: clientset.CoreV1().Events(metav1.NamespaceDefault),
	}

	broadcaster := record.NewBroadcaster()
	broadcaster.StartLogging(klog.Infof)
	broadcaster.StartRecordingToSink(events)

	recorder := broadcaster.NewRecorder(scheme.Scheme, corev1.EventSource{
		Component: EventComponent,
		Host:      nodeName,
	})

	sink := newNodeSink(clientset, nodeName, recorder)
	sink.broadcaster = broadcaster
	sink.events = events
	return sink
}

func newNodeSink(clientset kubernetes.Interface, nodeName string, recorder record.EventRecorder) *NodeSink {
	return &NodeSink{
		clientset:       clientset,
		nodeName:        nodeName,
		recorder:        recorder,
		initialInterval: 250 * time.Millisecond,
		maxInterval:     2 * time.Second,
	}
}

// Update merge-patches the indicator annotation, replacing any previous value
func (s *NodeSink) Update(ctx context.Context, ind status.Indicator) error {
	value, err := json.Marshal(ind)
	if err != nil {
		return fmt.Errorf("failed to encode indicator: %w", err)
	}

	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]string{
				AnnotationKey(ind.ID): string(value),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode node patch: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		_, err := s.clientset.CoreV1().Nodes().Patch(ctx, s.nodeName, types.MergePatchType, patch, metav1.PatchOptions{})
		if err == nil {
			return nil
		}
		if apierrors.IsNotFound(err) || apierrors.IsForbidden(err) || apierrors.IsInvalid(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.RetryNotify(op, s.newBackOff(ctx), func(err error, next time.Duration) {
		klog.V(4).Infof("Patching node %s failed (attempt %d), retrying in %v: %v", s.nodeName, attempt, next, err)
	}); err != nil {
		return fmt.Errorf("failed to annotate node %s: %w", s.nodeName, err)
	}
	klog.V(4).Infof("Annotated node %s with %s", s.nodeName, ind)

	if ind.IsTerminal() {
		s.postEvent(ind)
	}
	return nil
}

func (s *NodeSink) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialInterval
	bo.MaxInterval = s.maxInterval
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, MaxPatchRetries), ctx)
}

// Close waits up to EventFlushTimeout for recorded events to reach the API
// server, then stops the broadcaster. Events are sent asynchronously, so a
// short-lived process must call Close before exiting or lose them.
func (s *NodeSink) Close() {
	if s.broadcaster == nil {
		return
	}
	defer s.broadcaster.Shutdown()

	err := wait.PollUntilContextTimeout(context.Background(), 20*time.Millisecond, EventFlushTimeout, true,
		func(context.Context) (bool, error) {
			return s.events.delivered.Load() >= s.posted.Load(), nil
		})
	if err != nil {
		klog.Warningf("Gave up waiting for %d node events to be delivered: %v",
			s.posted.Load()-s.events.delivered.Load(), err)
		return
	}
	klog.V(4).Infof("Delivered %d node events for %s", s.posted.Load(), s.nodeName)
}

// postEvent records the terminal state as a Node event
func (s *NodeSink) postEvent(ind status.Indicator) {
	s.posted.Add(1)

	ref := &corev1.ObjectReference{
		APIVersion: "v1",
		Kind:       "Node",
		Name:       s.nodeName,
		UID:        types.UID(s.nodeName),
	}

	if ind.IsFailure() {
		s.recorder.Event(ref, corev1.EventTypeWarning, EventReasonMountFailed, ind.Body)
	} else {
		s.recorder.Event(ref, corev1.EventTypeNormal, EventReasonMountCompleted, ind.Body)
	}
	klog.V(2).Infof("Posted %s event to node %s", ind.Body, s.nodeName)
}

// ReadIndicator returns the indicator stored on the node under id
func ReadIndicator(ctx context.Context, clientset kubernetes.Interface, nodeName, id string) (status.Indicator, error) {
	node, err := clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return status.Indicator{}, fmt.Errorf("failed to get node %s: %w", nodeName, err)
	}

	raw, ok := node.Annotations[AnnotationKey(id)]
	if !ok {
		return status.Indicator{}, fmt.Errorf("node %s has no %s annotation", nodeName, AnnotationKey(id))
	}

	var ind status.Indicator
	if err := json.Unmarshal([]byte(raw), &ind); err != nil {
		return status.Indicator{}, fmt.Errorf("failed to decode indicator on node %s: %w", nodeName, err)
	}
	return ind, nil
}
