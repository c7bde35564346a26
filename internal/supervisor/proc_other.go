//go:build !windows

package supervisor

import "os/exec"

func configureCommand(cmd *exec.Cmd, cmdline string) {}
