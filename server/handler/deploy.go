package handler

import (
	"context"

	"github.com/vsrad/debugserver/internal/archive"
	"github.com/vsrad/debugserver/protocol"
)

func (d *Dispatcher) deploy(_ context.Context, cmd *protocol.Deploy) protocol.Response {
	if err := archive.Unpack(cmd.Data, cmd.Destination, cmd.PreserveTimestamps, d.env.unpackLimit()); err != nil {
		d.log.Warnw("deploy failed", "Destination", cmd.Destination, "Err", err)
		return &protocol.DeployCompleted{Status: protocol.DeployFailure}
	}
	d.log.Debugw("deployed archive", "Destination", cmd.Destination, "Bytes", len(cmd.Data))
	return &protocol.DeployCompleted{Status: protocol.DeploySuccessful}
}
