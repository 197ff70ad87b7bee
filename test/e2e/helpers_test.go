package e2e

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/bootmount/pkg/mount"
	"git.srvlab.io/whiskey/bootmount/pkg/privileged"
	"git.srvlab.io/whiskey/bootmount/pkg/status"
	"git.srvlab.io/whiskey/bootmount/test/mock"
)

// Constants for test configuration
const (
	defaultTimeout = 10 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// harness wires a real ExecRunner to a file sink and a recording sink
type harness struct {
	orch     *mount.Orchestrator
	file     *status.FileSink
	recorder *mock.MockSink
	stateDir string
}

// writeScript writes an sh script under the work directory and returns its path
func writeScript(name, body string) string {
	path := filepath.Join(workDir, testRunID+"-"+name+".sh")
	Expect(os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755)).To(Succeed())
	return path
}

// newHarness builds an orchestrator running script through plain sh
func newHarness(script string, mutate func(*mount.Config)) *harness {
	cmd, err := privileged.NewCommand(privileged.ElevatorNone, script)
	Expect(err).NotTo(HaveOccurred())

	stateDir, err := os.MkdirTemp(workDir, "state-")
	Expect(err).NotTo(HaveOccurred())

	h := &harness{
		file:     status.NewFileSink(osFs, stateDir),
		recorder: mock.NewMockSink(),
		stateDir: stateDir,
	}

	cfg := mount.Config{
		Command: cmd,
		Runner:  privileged.NewExecRunner(),
		Sink:    status.NewMultiSink().Add("file", h.file).Add("recorder", h.recorder),
		Timeout: defaultTimeout,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.orch, err = mount.NewOrchestrator(cfg)
	Expect(err).NotTo(HaveOccurred())
	return h
}

// bodies returns the indicator bodies in the order they were posted
func (h *harness) bodies() []string {
	var out []string
	for _, ind := range h.recorder.History() {
		out = append(out, ind.Body)
	}
	return out
}

// persisted reads the indicator back from the state file
func (h *harness) persisted() status.Indicator {
	ind, err := h.file.Read(status.IndicatorID)
	Expect(err).NotTo(HaveOccurred())
	return ind
}
