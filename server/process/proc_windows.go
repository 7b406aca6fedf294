//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

func buildCommand(name, arguments string) (*exec.Cmd, error) {
	cmd := exec.Command(name)
	cmdLine := quoteIfNeeded(name)
	if arguments != "" {
		cmdLine += " " + arguments
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: cmdLine, HideWindow: true}
	return cmd, nil
}

// elevate goes through the runas verb. The elevated program runs in a separate
// console, so its output is not captured.
func elevate(name, arguments string) (string, string) {
	script := fmt.Sprintf("Start-Process -FilePath '%s' -Verb RunAs -Wait", strings.ReplaceAll(name, "'", "''"))
	if arguments != "" {
		script += fmt.Sprintf(" -ArgumentList '%s'", strings.ReplaceAll(arguments, "'", "''"))
	}
	return "powershell.exe", "-NoProfile -NonInteractive -Command \"" + script + "\""
}

func killProcessTree(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, `"`) {
		return `"` + s + `"`
	}
	return s
}
