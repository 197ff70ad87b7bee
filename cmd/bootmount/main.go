package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/bootmount/pkg/kube"
	"git.srvlab.io/whiskey/bootmount/pkg/mount"
	"git.srvlab.io/whiskey/bootmount/pkg/observability"
	"git.srvlab.io/whiskey/bootmount/pkg/privileged"
	"git.srvlab.io/whiskey/bootmount/pkg/status"
	"git.srvlab.io/whiskey/bootmount/pkg/trigger"
)

var version = "dev"

// stringSlice collects a repeatable flag
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var (
	// Mount command
	script   = flag.String("script", privileged.DefaultScriptPath, "Absolute path of the mount script")
	elevator = flag.String("elevator", string(privileged.ElevatorSu), "Privilege elevation wrapper: su, sudo or none")
	timeout  = flag.Duration("timeout", mount.DefaultRunTimeout, "Maximum duration of a mount run (0 disables)")
	lenient  = flag.Bool("lenient-exit", false, "Report completed whenever the script terminates, regardless of exit status")
	expected stringSlice

	// Status surfaces
	stateDir   = flag.String("state-dir", status.DefaultStateDir, "Directory for the status indicator file (empty disables)")
	nodeName   = flag.String("node-name", "", "Kubernetes node to annotate with the status indicator (empty disables)")
	kubeconfig = flag.String("kubeconfig", "", "Path to kubeconfig (in-cluster config when empty)")

	// Trigger mode
	watch          = flag.Bool("watch", false, "Keep running after the boot run and re-run on SIGUSR1")
	async          = flag.Bool("async", false, "Run the mount on a worker instead of the event callback")
	signalInterval = flag.Duration("signal-interval", trigger.DefaultSignalInterval, "Minimum spacing of SIGUSR1-triggered runs")

	// Metrics
	metricsAddress  = flag.String("metrics-address", "", "Address to serve /metrics on in watch mode (empty disables)")
	metricsTextfile = flag.String("metrics-textfile", "", "Write metrics to this node_exporter textfile after each run (empty disables)")

	// Version flag
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	klog.InitFlags(nil)
	flag.Var(&expected, "expect-mount", "Mount point that must exist after the script exits (repeatable)")
	flag.Parse()
	defer klog.Flush()

	if *showVersion {
		fmt.Println("bootmount", version)
		os.Exit(0)
	}

	elev, err := privileged.ParseElevator(*elevator)
	if err != nil {
		klog.Fatalf("Invalid --elevator: %v", err)
	}

	cmd, err := privileged.NewCommand(elev, *script)
	if err != nil {
		klog.Fatalf("Invalid --script: %v", err)
	}

	metrics := observability.NewMetrics()
	sink, closeSinks := buildSink()

	policy := mount.PolicyStrict
	if *lenient {
		policy = mount.PolicyLenient
	}

	orch, err := mount.NewOrchestrator(mount.Config{
		Command:        cmd,
		Runner:         privileged.NewExecRunner(),
		Sink:           sink,
		Policy:         policy,
		Timeout:        *timeout,
		ExpectedMounts: expected,
		Metrics:        metrics,
	})
	if err != nil {
		klog.Fatalf("Failed to create orchestrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		lastMu sync.Mutex
		last   mount.TerminalStatus
	)
	dispatcher := trigger.NewDispatcher(func(ctx context.Context, ev trigger.Event) {
		ts := orch.RunMount(ctx)

		lastMu.Lock()
		last = ts
		lastMu.Unlock()

		if *metricsTextfile != "" {
			if err := metrics.WriteTextfile(*metricsTextfile); err != nil {
				klog.Warningf("Failed to write metrics textfile %s: %v", *metricsTextfile, err)
			}
		}
	}, *async, metrics)

	if *watch && *metricsAddress != "" {
		go serveMetrics(ctx, *metricsAddress, metrics)
	}

	klog.Infof("bootmount %s: %s (watch=%v async=%v)", version, cmd, *watch, *async)

	// Re-triggers sent during the boot run are queued, not lost
	var signals *trigger.SignalListener
	if *watch {
		signals = trigger.NewSignalListener(*signalInterval, syscall.SIGUSR1)
		signals.Register()
	}

	if err := trigger.NewBootListener().Listen(ctx, dispatcher.Handler()); err != nil {
		klog.Errorf("Boot listener failed: %v", err)
	}

	if *watch {
		if err := signals.Listen(ctx, dispatcher.Handler()); err != nil {
			klog.Errorf("Signal listener failed: %v", err)
		}
		klog.Info("Shutting down, waiting for active runs")
	}

	dispatcher.Wait()
	closeSinks()

	lastMu.Lock()
	failed := last.Outcome != mount.OutcomeCompleted
	lastMu.Unlock()

	if !*watch && failed {
		// Let the init system mark the unit failed
		klog.Flush()
		os.Exit(1)
	}
}

// buildSink assembles the status surfaces enabled by flags. The returned
// func flushes surfaces that deliver asynchronously.
func buildSink() (status.Sink, func()) {
	sinks := status.NewMultiSink().Add("log", status.NewLogSink())
	closeSinks := func() {}

	if *stateDir != "" {
		fileSink := status.NewFileSink(afero.NewOsFs(), *stateDir)
		sinks.Add("file", fileSink)
		klog.V(2).Infof("Status indicator file: %s", fileSink.Path(status.IndicatorID))
	}

	if *nodeName != "" {
		clientset, err := kube.NewClientset(*kubeconfig)
		if err != nil {
			// The API server is often not reachable this early in boot.
			// The mount still runs without the node surface.
			klog.Warningf("Node status disabled: %v", err)
		} else {
			nodeSink := kube.NewNodeSink(clientset, *nodeName)
			sinks.Add("node", status.NewBreakerSink("node/"+*nodeName, nodeSink, 0))
			closeSinks = nodeSink.Close
			klog.V(2).Infof("Status indicator annotation on node %s", *nodeName)
		}
	}

	return sinks, closeSinks
}

func serveMetrics(ctx context.Context, addr string, metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	klog.Infof("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Errorf("Metrics server failed: %v", err)
	}
}
