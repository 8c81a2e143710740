//go:build unix

package procsup

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup places the child in its own process group so that helpers
// which spawn their own children (ffmpeg, script runtimes) can be reaped
// as a tree.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup terminates the whole process group: SIGTERM first, SIGKILL
// after the grace period if the group still exists.
func killGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return
	}
	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		<-timer.C
		// Errors here mean the group is already gone.
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}()
}
