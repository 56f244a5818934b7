// Package procgroup starts external commands in their own process group.
//
// Cancelling the context kills the whole group, so grandchildren that
// inherited stdout cannot keep Wait blocked after the direct child died.
package procgroup

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// WaitDelay bounds how long Wait keeps draining output after the group
// was killed.
const WaitDelay = 2 * time.Second

// Command is exec.CommandContext with group-wide cancellation.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return Kill(cmd)
	}
	cmd.WaitDelay = WaitDelay
	return cmd
}

// Kill sends SIGKILL to the process group of a started cmd.
func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
