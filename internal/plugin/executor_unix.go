//go:build unix

package plugin

import (
	"os/exec"
	"syscall"
)

// killGroupOnCancel starts the plugin in its own process group and kills
// the whole group on cancel, so children a script spawned die with it.
func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
