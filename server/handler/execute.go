package handler

import (
	"context"
	"time"

	"github.com/vsrad/debugserver/protocol"
	"github.com/vsrad/debugserver/server/process"
)

func (d *Dispatcher) execute(ctx context.Context, cmd *protocol.Execute) protocol.Response {
	res := d.env.Supervisor.Run(ctx, process.Request{
		WorkingDir: cmd.WorkingDirectory,
		Executable: cmd.Executable,
		Arguments:  cmd.Arguments,
		Env:        cmd.Environment,
		Elevate:    cmd.RunAsAdministrator,
		Background: cmd.Background,
		Timeout:    time.Duration(cmd.ExecutionTimeoutSecs) * time.Second,
		OnStdout:   d.onStdout,
		OnStderr:   d.onStderr,
	})
	if res.LaunchErr != nil {
		d.log.Infow("could not launch process", "Executable", cmd.Executable, "Err", res.LaunchErr)
	}
	return &protocol.ExecutionCompleted{
		Status:        res.Status,
		ExitCode:      int32(res.ExitCode),
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		ExecutionTime: res.Duration,
	}
}
