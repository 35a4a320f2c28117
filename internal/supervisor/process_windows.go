//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureSysProcAttr hides the console window and starts a new process group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateProcessGroup asks the process tree to close without /F.
func terminateProcessGroup(pid int) error {
	return taskkill(pid, false)
}

func killProcessGroup(pid int) error {
	return taskkill(pid, true)
}

func taskkill(pid int, force bool) error {
	if pid <= 0 {
		return nil
	}
	args := []string{"/PID", fmt.Sprint(pid), "/T"}
	if force {
		args = append(args, "/F")
	}
	cmd := exec.Command("taskkill", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
	return cmd.Run()
}
