//go:build !windows

package runner

import (
	"os/exec"
	"path/filepath"
	"syscall"
)

func shellCommand(script string) (string, []string) {
	return "/bin/sh", []string{"-c", script}
}

// VenvBin returns the path of an executable inside a virtualenv.
func VenvBin(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, "bin", name)
}

func configureCommandProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		// negative pgid: the script and everything it spawned
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}
