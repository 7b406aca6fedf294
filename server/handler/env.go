package handler

import (
	"context"
	"os"
	"strings"

	"github.com/vsrad/debugserver/protocol"
)

func (d *Dispatcher) listEnvironmentVariables(context.Context, *protocol.ListEnvironmentVariables) protocol.Response {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		// Windows keeps per-drive working directories under keys like "=C:"
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return &protocol.EnvironmentVariablesListed{Variables: vars}
}
