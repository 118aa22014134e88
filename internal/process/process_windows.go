//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

func configureSysProcAttr(*exec.Cmd) {}

func interrupt(*exec.Cmd) error {
	return errors.ErrUnsupported
}

func kill(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}

func exitSignal(*os.ProcessState) (int, bool) {
	return 0, false
}
