//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// configureCommand hides the console window and hands Windows the command
// line exactly as built, since it does its own argument splitting.
func configureCommand(cmd *exec.Cmd, cmdline string) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
		CmdLine:       cmdline,
	}
}
