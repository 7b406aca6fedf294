// Package handler turns decoded commands into responses. Every handler is
// total: failures become status values in the response, and a panic is
// converted into the failure response for that command kind.
package handler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/Masterminds/semver/v3"
	"github.com/vsrad/debugserver/protocol"
	"github.com/vsrad/debugserver/server/process"
	"go.uber.org/zap"
)

var (
	// ErrMissingVersionExchange is returned when a connection's first command
	// is not ExchangeVersions. No response is produced.
	ErrMissingVersionExchange = errors.New("first command was not ExchangeVersions")
	// ErrClientNotSupported accompanies an ExchangeVersionsResponse that must be
	// sent before the connection is closed.
	ErrClientNotSupported = errors.New("client version not supported")
)

// Environment is the server-wide state shared by the dispatchers of all connections.
type Environment struct {
	Supervisor   *process.Supervisor
	Capabilities protocol.CapabilityInfo
	// MinClientVersion rejects older clients during ExchangeVersions. Nil accepts any version.
	MinClientVersion *semver.Version
	// MaxUnpackedSize bounds the bytes a single Deploy or PutFiles may write
	// after decompression. Zero means protocol.DefaultMaxMessageSize.
	MaxUnpackedSize int64
}

func (e *Environment) unpackLimit() int64 {
	if e.MaxUnpackedSize > 0 {
		return e.MaxUnpackedSize
	}
	return protocol.DefaultMaxMessageSize
}

// Dispatcher serves the commands of a single connection. It is not safe for
// concurrent use; the connection serializes calls to Dispatch.
type Dispatcher struct {
	env        *Environment
	log        *zap.SugaredLogger
	onStdout   func(line string)
	onStderr   func(line string)
	negotiated bool
}

type Option func(d *Dispatcher)

// WithOutputObserver receives every line printed by programs started through Execute.
func WithOutputObserver(stdout, stderr func(line string)) Option {
	return func(d *Dispatcher) {
		d.onStdout = stdout
		d.onStderr = stderr
	}
}

func NewDispatcher(env *Environment, log *zap.SugaredLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{env: env, log: log}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Negotiated reports whether ExchangeVersions has succeeded on this connection.
func (d *Dispatcher) Negotiated() bool { return d.negotiated }

type entry struct {
	run     func(d *Dispatcher, ctx context.Context, cmd protocol.Command) (protocol.Response, error)
	failure func() protocol.Response
}

func handle[C protocol.Command](f func(d *Dispatcher, ctx context.Context, cmd C) protocol.Response, failure func() protocol.Response) entry {
	return entry{
		run: func(d *Dispatcher, ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
			return f(d, ctx, cmd.(C)), nil
		},
		failure: failure,
	}
}

var handlers = map[protocol.CommandType]entry{
	protocol.TypeExecute: handle((*Dispatcher).execute, func() protocol.Response {
		return &protocol.ExecutionCompleted{Status: protocol.StatusCouldNotLaunch, ExitCode: -1}
	}),
	protocol.TypeFetchMetadata: handle((*Dispatcher).fetchMetadata, func() protocol.Response {
		return &protocol.MetadataFetched{Status: protocol.FetchFileNotFound}
	}),
	protocol.TypeFetchResultRange: handle((*Dispatcher).fetchResultRange, func() protocol.Response {
		return &protocol.ResultRangeFetched{Status: protocol.FetchFileNotFound}
	}),
	protocol.TypeListEnvironmentVariables: handle((*Dispatcher).listEnvironmentVariables, func() protocol.Response {
		return &protocol.EnvironmentVariablesListed{}
	}),
	protocol.TypeListFiles: handle((*Dispatcher).listFiles, func() protocol.Response {
		return &protocol.ListFilesResponse{}
	}),
	protocol.TypeGetFiles: handle((*Dispatcher).getFiles, func() protocol.Response {
		return &protocol.GetFilesResponse{Status: protocol.GetFilesOtherIOError}
	}),
	protocol.TypePutFiles: handle((*Dispatcher).putFiles, func() protocol.Response {
		return &protocol.PutFilesResponse{Status: protocol.PutFilesOtherIOError}
	}),
	protocol.TypeDeploy: handle((*Dispatcher).deploy, func() protocol.Response {
		return &protocol.DeployCompleted{Status: protocol.DeployFailure}
	}),
	protocol.TypeExchangeVersions: {
		run: func(d *Dispatcher, ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
			return d.exchangeVersions(ctx, cmd.(*protocol.ExchangeVersions))
		},
		failure: func() protocol.Response {
			return &protocol.ExchangeVersionsResponse{Status: protocol.ExchangeVersionsClientNotSupported}
		},
	},
}

// Dispatch runs the handler registered for cmd's kind. A non-nil error is
// fatal to the connection; when it comes with a response, the response is
// written before closing.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) (resp protocol.Response, err error) {
	t := cmd.CommandType()
	if !d.negotiated && t != protocol.TypeExchangeVersions {
		return nil, ErrMissingVersionExchange
	}
	h, ok := handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler for %s", t)
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("handler panicked", "Command", cmd.String(), "Panic", r, "Stack", string(debug.Stack()))
			resp, err = h.failure(), nil
		}
	}()
	return h.run(d, ctx, cmd)
}
