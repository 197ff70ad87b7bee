package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/bootmount/pkg/mount"
	"git.srvlab.io/whiskey/bootmount/pkg/status"
	"git.srvlab.io/whiskey/bootmount/pkg/trigger"
)

var _ = Describe("Concurrent Triggers", func() {
	It("should serialise overlapping runs", func() {
		journal := filepath.Join(workDir, testRunID+"-journal")
		DeferCleanup(func() { _ = os.Remove(journal) })

		script := writeScript("journal",
			"echo begin >> '"+journal+"'\nsleep 0.2\necho end >> '"+journal+"'")
		h := newHarness(script, nil)

		By("Dispatching three triggers on workers")
		d := trigger.NewDispatcher(func(ctx context.Context, _ trigger.Event) {
			h.orch.RunMount(ctx)
		}, true, nil)
		for i := 0; i < 3; i++ {
			d.Dispatch(context.Background(), trigger.Event{Source: trigger.SourceSignal})
		}
		d.Wait()

		By("Checking runs never overlapped")
		data, err := os.ReadFile(journal)
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Fields(string(data))
		Expect(lines).To(HaveLen(6))
		for i := 0; i < len(lines); i += 2 {
			Expect(lines[i]).To(Equal("begin"))
			Expect(lines[i+1]).To(Equal("end"))
		}

		bodies := h.bodies()
		Expect(bodies).To(HaveLen(6))
		for i := 0; i < len(bodies); i += 2 {
			Expect(bodies[i]).To(Equal(status.BodyStarting))
			Expect(bodies[i+1]).To(Equal(status.BodyCompleted))
		}
	})

	It("should still post a terminal status when the caller cancels", func() {
		h := newHarness(writeScript("cancel", "sleep 30"), nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan mount.TerminalStatus, 1)
		go func() {
			defer GinkgoRecover()
			done <- h.orch.RunMount(ctx)
		}()

		Eventually(h.bodies, defaultTimeout, pollInterval).Should(ContainElement(status.BodyStarting))
		cancel()

		var ts mount.TerminalStatus
		Eventually(done, defaultTimeout).Should(Receive(&ts))
		Expect(ts.Outcome).To(Equal(mount.OutcomeFailed))
		Expect(h.persisted().IsFailure()).To(BeTrue())
	})
})
