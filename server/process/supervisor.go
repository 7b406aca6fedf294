package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vsrad/debugserver/protocol"
	"go.uber.org/zap"
)

// DefaultWaitDelay bounds how long Run waits for the output pipes to close
// after the program has exited or been killed.
const DefaultWaitDelay = 2 * time.Second

// Request describes a single program run.
type Request struct {
	WorkingDir string
	Executable string
	// Arguments is a single command-line string, see the package doc.
	Arguments string
	// Env overlays the server's own environment.
	Env     map[string]string
	Elevate bool
	// Background starts the program and returns immediately without capturing output.
	Background bool
	// Timeout of 0 waits indefinitely.
	Timeout time.Duration

	OnStdout func(line string)
	OnStderr func(line string)
}

type Result struct {
	Status   protocol.ExecutionStatus
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// LaunchErr is set when Status is StatusCouldNotLaunch.
	LaunchErr error
}

type Supervisor struct {
	Log       *zap.SugaredLogger
	WaitDelay time.Duration
}

func NewSupervisor(log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{Log: log, WaitDelay: DefaultWaitDelay}
}

func couldNotLaunch(err error, start time.Time) Result {
	return Result{
		Status:    protocol.StatusCouldNotLaunch,
		ExitCode:  -1,
		Duration:  time.Since(start),
		LaunchErr: err,
	}
}

// Run starts the program described by req and blocks until it exits, its
// timeout fires, or ctx is done. Cancelling ctx kills the program.
func (s *Supervisor) Run(ctx context.Context, req Request) Result {
	start := time.Now()

	name, args := req.Executable, req.Arguments
	if strings.TrimSpace(name) == "" {
		return couldNotLaunch(errors.New("no executable given"), start)
	}
	if req.Elevate {
		name, args = elevate(name, args)
	}
	cmd, err := buildCommand(name, args)
	if err != nil {
		return couldNotLaunch(err, start)
	}
	cmd.Dir = req.WorkingDir
	if len(req.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), req.Env)
	}
	cmd.WaitDelay = s.WaitDelay

	if req.Background {
		if err := cmd.Start(); err != nil {
			return couldNotLaunch(err, start)
		}
		s.Log.Debugw("started background process", "PID", cmd.Process.Pid, "Executable", name)
		go func() {
			err := cmd.Wait()
			s.Log.Debugw("background process exited", "PID", cmd.Process.Pid, "Err", err)
		}()
		return Result{Status: protocol.StatusCompleted, Duration: time.Since(start)}
	}

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	stdoutLines, stderrLines := newLineWriter(req.OnStdout), newLineWriter(req.OnStderr)
	cmd.Stdout = io.MultiWriter(stdout, stdoutLines)
	cmd.Stderr = io.MultiWriter(stderr, stderrLines)

	if err := cmd.Start(); err != nil {
		return couldNotLaunch(err, start)
	}
	s.Log.Debugw("started process", "PID", cmd.Process.Pid, "Executable", name, "Timeout", req.Timeout)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	status := protocol.StatusCompleted
	var waitErr error
	select {
	case waitErr = <-done:
	case <-timeout:
		status = protocol.StatusTimedOut
		s.Log.Debugw("process timed out, killing", "PID", cmd.Process.Pid)
		s.kill(cmd)
		waitErr = <-done
	case <-ctx.Done():
		s.Log.Debugw("context done, killing process", "PID", cmd.Process.Pid)
		s.kill(cmd)
		waitErr = <-done
	}
	stdoutLines.Flush()
	stderrLines.Flush()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		s.Log.Debugw("waiting for process", "PID", cmd.Process.Pid, "Err", waitErr)
	}

	return Result{
		Status:   status,
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
}

func (s *Supervisor) kill(cmd *exec.Cmd) {
	if err := killProcessTree(cmd); err != nil {
		s.Log.Debugw("killing process", "PID", cmd.Process.Pid, "Err", err)
	}
}

func mergeEnv(base []string, overlay map[string]string) []string {
	env := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[k]; ok {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}
