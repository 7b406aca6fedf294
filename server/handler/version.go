package handler

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/vsrad/debugserver/protocol"
)

// ServerCapabilities describes the running server for ExchangeVersions.
func ServerCapabilities(identity, version string) protocol.CapabilityInfo {
	return protocol.CapabilityInfo{
		ServerIdentity:  identity,
		Version:         version,
		Platform:        protocol.CurrentPlatform(),
		PlatformDetails: platformDetails(),
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: []protocol.Capability{
			protocol.CapabilityBase,
			protocol.CapabilityDeploy,
			protocol.CapabilityCompressedCommands,
			protocol.CapabilityPing,
		},
	}
}

func platformDetails() string {
	info, err := host.Info()
	if err != nil {
		return runtime.GOOS + "/" + runtime.GOARCH
	}
	return fmt.Sprintf("%s %s %s, host %s", info.Platform, info.PlatformVersion, info.KernelArch, info.Hostname)
}

func (d *Dispatcher) exchangeVersions(_ context.Context, cmd *protocol.ExchangeVersions) (protocol.Response, error) {
	resp := &protocol.ExchangeVersionsResponse{
		Status: protocol.ExchangeVersionsSuccessful,
		Info:   d.env.Capabilities,
	}
	if err := d.checkClientVersion(cmd.ClientVersion); err != nil {
		resp.Status = protocol.ExchangeVersionsClientNotSupported
		return resp, fmt.Errorf("%w: %v", ErrClientNotSupported, err)
	}
	d.negotiated = true
	d.log.Debugw("negotiated versions", "ClientVersion", cmd.ClientVersion, "ClientPlatform", cmd.ClientPlatform.String())
	return resp, nil
}

func (d *Dispatcher) checkClientVersion(v string) error {
	if d.env.MinClientVersion == nil {
		return nil
	}
	client, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("parsing client version %q: %w", v, err)
	}
	if client.LessThan(d.env.MinClientVersion) {
		return fmt.Errorf("client version %s is older than %s", client, d.env.MinClientVersion)
	}
	return nil
}
