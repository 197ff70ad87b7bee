package privileged

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to the process group led by cmd
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return nil
	}
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		klog.V(4).Infof("Killing process group %d", pgid)
		// Negative PGID targets the full group (elevator, shell, children)
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}
