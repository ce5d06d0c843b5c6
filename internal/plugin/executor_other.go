//go:build !unix

package plugin

import "os/exec"

// killGroupOnCancel keeps the default cancel, which kills only the plugin
// process. WaitDelay still bounds the wait on its output.
func killGroupOnCancel(cmd *exec.Cmd) {}
