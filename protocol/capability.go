package protocol

import (
	"runtime"
	"strings"
)

// ProtocolVersion is the newest wire revision this package speaks.
const ProtocolVersion uint32 = 1

// CapabilityInfo describes a server. It is sent once per connection in reply
// to ExchangeVersions and does not change afterwards.
type CapabilityInfo struct {
	ServerIdentity  string
	Version         string
	Platform        Platform
	PlatformDetails string
	ProtocolVersion uint32
	Capabilities    []Capability
}

// Has reports whether the server advertised c.
func (i CapabilityInfo) Has(c Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

func (i CapabilityInfo) String() string {
	caps := make([]string, 0, len(i.Capabilities))
	for _, c := range i.Capabilities {
		caps = append(caps, c.String())
	}
	return "Identity = " + i.ServerIdentity +
		"\nVersion = " + i.Version +
		"\nPlatform = " + i.Platform.String() + " (" + i.PlatformDetails + ")" +
		"\nCapabilities = " + strings.Join(caps, ", ")
}

func (i *CapabilityInfo) encode(w *writer) {
	w.string(i.ServerIdentity)
	w.string(i.Version)
	w.byte(byte(i.Platform))
	w.string(i.PlatformDetails)
	w.uint32(i.ProtocolVersion)
	w.uint32(uint32(len(i.Capabilities)))
	for _, c := range i.Capabilities {
		w.byte(byte(c))
	}
}

func decodeCapabilityInfo(r *reader) CapabilityInfo {
	info := CapabilityInfo{
		ServerIdentity:  r.string(),
		Version:         r.string(),
		Platform:        Platform(r.byte()),
		PlatformDetails: r.string(),
		ProtocolVersion: r.uint32(),
	}
	if n := r.count(1); n > 0 {
		info.Capabilities = make([]Capability, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			info.Capabilities = append(info.Capabilities, Capability(r.byte()))
		}
	}
	return info
}

// CurrentPlatform is the Platform of the running process.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformMacOS
	}
	return PlatformOther
}
