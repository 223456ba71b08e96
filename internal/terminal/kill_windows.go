//go:build windows

package terminal

import (
	"errors"
	"os"
)

func killGroup(proc *os.Process) error {
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
