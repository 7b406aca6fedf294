// Package version holds the release version shared by the server, the client
// and the configuration defaults.
package version

// Version is the release this build belongs to. Release builds set it with
// -ldflags "-X github.com/vsrad/debugserver/internal/version.Version=...".
var Version = "2024.3.3"
