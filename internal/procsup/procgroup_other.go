//go:build !unix

package procsup

import (
	"os/exec"
	"time"
)

func setProcGroup(cmd *exec.Cmd) {}

func killGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
