//go:build windows

package runner

import (
	"os/exec"
	"path/filepath"
)

func shellCommand(script string) (string, []string) {
	return "cmd.exe", []string{"/C", script}
}

// VenvBin returns the path of an executable inside a virtualenv.
func VenvBin(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, "Scripts", name+".exe")
}

func configureCommandProcess(cmd *exec.Cmd) {}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
