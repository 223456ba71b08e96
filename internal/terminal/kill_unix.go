//go:build !windows

package terminal

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// killGroup sends SIGKILL to the process group led by proc. pty.Start makes
// the shell a session leader, so its pgid equals its pid.
func killGroup(proc *os.Process) error {
	err := unix.Kill(-proc.Pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	// Group gone or not ours; fall back to the leader alone.
	if kerr := proc.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
		return kerr
	}
	return nil
}
