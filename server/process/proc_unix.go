//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/mattn/go-shellwords"
	"golang.org/x/sys/unix"
)

func buildCommand(name, arguments string) (*exec.Cmd, error) {
	args, err := shellwords.Parse(arguments)
	if err != nil {
		return nil, fmt.Errorf("parsing arguments %q: %w", arguments, err)
	}
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

// elevate runs the program through non-interactive sudo unless the server
// already runs as root.
func elevate(name, arguments string) (string, string) {
	if unix.Geteuid() == 0 {
		return name, arguments
	}
	return "sudo", "-n -- '" + strings.ReplaceAll(name, "'", `'\''`) + "' " + arguments
}

func killProcessTree(cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	pgid, err := unix.Getpgid(pid)
	if err == nil && pgid == pid {
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}
