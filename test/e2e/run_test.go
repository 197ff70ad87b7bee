package e2e

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/bootmount/pkg/mount"
	"git.srvlab.io/whiskey/bootmount/pkg/status"
	"git.srvlab.io/whiskey/bootmount/pkg/trigger"
)

var _ = Describe("Mount Run Lifecycle", func() {
	It("should report starting then completed for a clean exit", func() {
		h := newHarness(writeScript("ok", "echo mounted; exit 0"), nil)

		By("Running the boot trigger through the dispatcher")
		var ts mount.TerminalStatus
		d := trigger.NewDispatcher(func(ctx context.Context, _ trigger.Event) {
			ts = h.orch.RunMount(ctx)
		}, false, nil)
		Expect(trigger.NewBootListener().Listen(context.Background(), d.Handler())).To(Succeed())

		Expect(ts.Outcome).To(Equal(mount.OutcomeCompleted))
		Expect(ts.ExitCode).To(Equal(0))
		Expect(h.bodies()).To(Equal([]string{status.BodyStarting, status.BodyCompleted}))

		By("Checking the persisted indicator")
		ind := h.persisted()
		Expect(ind.ID).To(Equal(status.IndicatorID))
		Expect(ind.Title).To(Equal(status.Title))
		Expect(ind.Body).To(Equal(status.BodyCompleted))
		Expect(ind.Ongoing).To(BeFalse())
		Expect(filepath.Join(h.stateDir, status.IndicatorID+".json")).To(BeARegularFile())
	})

	It("should report the exit status of a failing script", func() {
		h := newHarness(writeScript("fail", "echo 'mount: /data: no such device' >&2; exit 3"), nil)

		ts := h.orch.RunMount(context.Background())

		Expect(ts.Outcome).To(Equal(mount.OutcomeFailed))
		Expect(ts.ExitCode).To(Equal(3))
		Expect(h.bodies()).To(Equal([]string{status.BodyStarting, "failed: exit status 3"}))
		Expect(h.persisted().Body).To(Equal("failed: exit status 3"))
	})

	It("should report completed for a failing script under the lenient policy", func() {
		h := newHarness(writeScript("fail-lenient", "exit 1"), func(cfg *mount.Config) {
			cfg.Policy = mount.PolicyLenient
		})

		ts := h.orch.RunMount(context.Background())

		Expect(ts.Outcome).To(Equal(mount.OutcomeCompleted))
		Expect(ts.ExitCode).To(Equal(1))
		Expect(h.persisted().Body).To(Equal(status.BodyCompleted))
	})

	It("should fail a run whose script does not exist", func() {
		// sh itself starts, so this is an exit status rather than a spawn failure
		h := newHarness(filepath.Join(workDir, testRunID+"-missing.sh"), nil)

		ts := h.orch.RunMount(context.Background())

		Expect(ts.Outcome).To(Equal(mount.OutcomeFailed))
		Expect(ts.ExitCode).NotTo(Equal(0))
		Expect(h.persisted().IsFailure()).To(BeTrue())
	})

	It("should kill a hung script and report the timeout", func() {
		h := newHarness(writeScript("hang", "sleep 30"), func(cfg *mount.Config) {
			cfg.Timeout = 300 * time.Millisecond
		})

		start := time.Now()
		ts := h.orch.RunMount(context.Background())
		klog.Infof("Hung script returned after %v", time.Since(start))

		Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
		Expect(ts.Outcome).To(Equal(mount.OutcomeTimedOut))
		Expect(h.persisted().Body).To(Equal("failed: timed out after 300ms"))
	})

	It("should verify expected mount points after a clean exit", func() {
		missing := filepath.Join(workDir, "not-a-mountpoint")
		h := newHarness(writeScript("verify", "exit 0"), func(cfg *mount.Config) {
			cfg.ExpectedMounts = []string{"/", missing}
		})

		ts := h.orch.RunMount(context.Background())

		Expect(ts.Outcome).To(Equal(mount.OutcomeFailed))
		Expect(ts.Reason).To(Equal("missing mounts: " + missing))
		Expect(h.persisted().Body).To(HavePrefix("failed: missing mounts:"))
	})

	It("should overwrite the indicator on a repeated trigger", func() {
		h := newHarness(writeScript("repeat", "exit 0"), nil)

		h.orch.RunMount(context.Background())
		h.orch.RunMount(context.Background())

		Expect(h.bodies()).To(Equal([]string{
			status.BodyStarting, status.BodyCompleted,
			status.BodyStarting, status.BodyCompleted,
		}))
		Expect(h.recorder.SlotCount()).To(Equal(1))
		Expect(h.persisted().Body).To(Equal(status.BodyCompleted))
	})
})
