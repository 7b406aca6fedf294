// Package client speaks the debug server protocol. A Client owns one
// connection and sends one command at a time.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vsrad/debugserver/internal/archive"
	"github.com/vsrad/debugserver/internal/version"
	"github.com/vsrad/debugserver/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// DefaultVersion is the version reported during ExchangeVersions.
var DefaultVersion = version.Version

var (
	ErrNotSupported = errors.New("server does not support this client version")
	ErrClosed       = errors.New("client is closed")
	ErrBadPong      = errors.New("unexpected reply to ping")
)

type Client struct {
	Logger *zap.SugaredLogger

	nc       net.Conn
	enc      *protocol.Encoder
	dec      *protocol.Decoder
	version  string
	platform protocol.Platform
	compress bool
	info     protocol.CapabilityInfo

	mut    sync.Mutex
	broken error
}

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.Logger = l.Named("client").Sugar()
	}
}

func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

func WithPlatform(p protocol.Platform) Option {
	return func(c *Client) {
		c.platform = p
	}
}

// WithCompression wraps commands in Compressed frames when the server supports it.
func WithCompression(b bool) Option {
	return func(c *Client) {
		c.compress = b
	}
}

// Dial connects over TCP and exchanges versions.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return New(ctx, nc, opts...)
}

// DialWebSocket connects to the /ws route of a server's status endpoint.
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*Client, error) {
	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing WebSocket: %w", err)
	}
	wsConn.SetReadLimit(int64(protocol.DefaultMaxMessageSize) + 4)
	// The connection outlives ctx, which only bounds the dial.
	nc := websocket.NetConn(context.Background(), wsConn, websocket.MessageBinary)
	return New(ctx, nc, opts...)
}

// New exchanges versions over an established connection. nc is closed if the
// exchange fails.
func New(ctx context.Context, nc net.Conn, opts ...Option) (*Client, error) {
	c := &Client{
		Logger:   zap.NewNop().Sugar(),
		nc:       nc,
		enc:      protocol.NewEncoder(nc),
		dec:      protocol.NewDecoder(nc),
		version:  DefaultVersion,
		platform: protocol.CurrentPlatform(),
	}
	for _, o := range opts {
		o(c)
	}

	resp, err := roundTrip[*protocol.ExchangeVersionsResponse](ctx, c, &protocol.ExchangeVersions{
		ClientVersion:  c.version,
		ClientPlatform: c.platform,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("exchanging versions: %w", err)
	}
	if resp.Status != protocol.ExchangeVersionsSuccessful {
		nc.Close()
		return nil, fmt.Errorf("%w: client %s, server %s %s", ErrNotSupported, c.version, resp.Info.ServerIdentity, resp.Info.Version)
	}
	c.info = resp.Info
	c.Logger.Debugw("connected", "Server", c.info.String())
	return c, nil
}

// Capabilities is what the server reported during ExchangeVersions.
func (c *Client) Capabilities() protocol.CapabilityInfo { return c.info }

func (c *Client) Close() error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.broken == nil {
		c.broken = ErrClosed
	}
	return c.nc.Close()
}

// withConn runs f with exclusive use of the connection. If ctx ends first the
// connection is interrupted and the client becomes unusable, since the stream
// position is no longer known.
func (c *Client) withConn(ctx context.Context, f func() error) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.broken != nil {
		return c.broken
	}

	stop := context.AfterFunc(ctx, func() {
		c.nc.SetDeadline(time.Unix(1, 0))
	})
	err := f()
	if !stop() {
		c.broken = fmt.Errorf("connection abandoned: %w", context.Cause(ctx))
		c.nc.Close()
		return ctx.Err()
	}
	if err != nil {
		c.broken = err
		c.nc.Close()
	}
	return err
}

func roundTrip[R protocol.Response](ctx context.Context, c *Client, cmd protocol.Command) (R, error) {
	var zero R
	if c.compress && c.info.Has(protocol.CapabilityCompressedCommands) {
		cmd = protocol.Compress(cmd)
	}
	var resp protocol.Response
	err := c.withConn(ctx, func() error {
		n, err := c.enc.EncodeCommand(cmd)
		if err != nil {
			return fmt.Errorf("sending %s: %w", cmd.CommandType(), err)
		}
		c.Logger.Debugw("command sent", "Command", cmd.String(), "Bytes", n)
		resp, n, err = c.dec.DecodeResponse()
		if err != nil {
			return fmt.Errorf("receiving response to %s: %w", cmd.CommandType(), err)
		}
		c.Logger.Debugw("response received", "Response", resp.String(), "Bytes", n)
		return nil
	})
	if err != nil {
		return zero, err
	}
	r, ok := resp.(R)
	if !ok {
		return zero, fmt.Errorf("unexpected response %s to %s", resp.ResponseType(), cmd.CommandType())
	}
	return r, nil
}

func (c *Client) Execute(ctx context.Context, cmd *protocol.Execute) (*protocol.ExecutionCompleted, error) {
	return roundTrip[*protocol.ExecutionCompleted](ctx, c, cmd)
}

func (c *Client) FetchMetadata(ctx context.Context, cmd *protocol.FetchMetadata) (*protocol.MetadataFetched, error) {
	return roundTrip[*protocol.MetadataFetched](ctx, c, cmd)
}

func (c *Client) FetchResultRange(ctx context.Context, cmd *protocol.FetchResultRange) (*protocol.ResultRangeFetched, error) {
	return roundTrip[*protocol.ResultRangeFetched](ctx, c, cmd)
}

func (c *Client) ListEnvironmentVariables(ctx context.Context) (map[string]string, error) {
	resp, err := roundTrip[*protocol.EnvironmentVariablesListed](ctx, c, &protocol.ListEnvironmentVariables{})
	if err != nil {
		return nil, err
	}
	return resp.Variables, nil
}

func (c *Client) ListFiles(ctx context.Context, cmd *protocol.ListFiles) ([]protocol.FileMetadata, error) {
	resp, err := roundTrip[*protocol.ListFilesResponse](ctx, c, cmd)
	if err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *Client) GetFiles(ctx context.Context, cmd *protocol.GetFiles) (*protocol.GetFilesResponse, error) {
	return roundTrip[*protocol.GetFilesResponse](ctx, c, cmd)
}

func (c *Client) PutFiles(ctx context.Context, cmd *protocol.PutFiles) (*protocol.PutFilesResponse, error) {
	return roundTrip[*protocol.PutFilesResponse](ctx, c, cmd)
}

func (c *Client) Deploy(ctx context.Context, cmd *protocol.Deploy) (*protocol.DeployCompleted, error) {
	return roundTrip[*protocol.DeployCompleted](ctx, c, cmd)
}

// DeployDir zips the contents of dir and deploys them into destination.
func (c *Client) DeployDir(ctx context.Context, dir, destination string, preserveTimestamps bool) (*protocol.DeployCompleted, error) {
	data, err := archive.Pack(dir)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", dir, err)
	}
	return c.Deploy(ctx, &protocol.Deploy{Destination: destination, Data: data, PreserveTimestamps: preserveTimestamps})
}

// Ping sends an empty frame and waits for the server's empty reply.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := c.withConn(ctx, func() error {
		if err := c.enc.EncodePing(); err != nil {
			return fmt.Errorf("sending ping: %w", err)
		}
		var pong [4]byte
		if _, err := io.ReadFull(c.nc, pong[:]); err != nil {
			return fmt.Errorf("receiving pong: %w", err)
		}
		if pong != [4]byte{} {
			return ErrBadPong
		}
		return nil
	})
	return time.Since(start), err
}
