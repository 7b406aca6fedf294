package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsrad/debugserver/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"nhooyr.io/websocket"
)

func startServer(t *testing.T, opts ...Option) *Server {
	opts = append([]Option{
		WithListenAddr("127.0.0.1:0"),
		WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	s, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return s
}

type rawClient struct {
	nc  net.Conn
	enc *protocol.Encoder
	dec *protocol.Decoder
}

func newRawClient(t *testing.T, nc net.Conn) *rawClient {
	t.Cleanup(func() { nc.Close() })
	require.NoError(t, nc.SetDeadline(time.Now().Add(10*time.Second)))
	return &rawClient{nc: nc, enc: protocol.NewEncoder(nc), dec: protocol.NewDecoder(nc)}
}

func dial(t *testing.T, s *Server) *rawClient {
	nc, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	return newRawClient(t, nc)
}

func (c *rawClient) send(t *testing.T, cmd protocol.Command) {
	_, err := c.enc.EncodeCommand(cmd)
	require.NoError(t, err)
}

func (c *rawClient) recv(t *testing.T) protocol.Response {
	resp, _, err := c.dec.DecodeResponse()
	require.NoError(t, err)
	return resp
}

func (c *rawClient) roundTrip(t *testing.T, cmd protocol.Command) protocol.Response {
	c.send(t, cmd)
	return c.recv(t)
}

func (c *rawClient) handshake(t *testing.T) *protocol.ExchangeVersionsResponse {
	resp := c.roundTrip(t, &protocol.ExchangeVersions{ClientVersion: Version, ClientPlatform: protocol.CurrentPlatform()})
	require.IsType(t, &protocol.ExchangeVersionsResponse{}, resp)
	ev := resp.(*protocol.ExchangeVersionsResponse)
	require.Equal(t, protocol.ExchangeVersionsSuccessful, ev.Status)
	return ev
}

// assertClosed expects the server to have closed the connection.
func (c *rawClient) assertClosed(t *testing.T) {
	_, err := io.ReadFull(c.nc, make([]byte, 1))
	assert.Error(t, err)
}

func TestHandshakeReportsCapabilities(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	ev := c.handshake(t)
	assert.Equal(t, Identity, ev.Info.ServerIdentity)
	assert.Equal(t, Version, ev.Info.Version)
	assert.Equal(t, protocol.ProtocolVersion, ev.Info.ProtocolVersion)
	assert.True(t, ev.Info.Has(protocol.CapabilityDeploy))
}

func TestResponsesFollowCommandOrder(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)
	c.handshake(t)

	missing := t.TempDir() + "/missing.bin"
	c.send(t, &protocol.ListEnvironmentVariables{})
	c.send(t, &protocol.FetchMetadata{FilePath: []string{missing}, BinaryOutput: true})
	c.send(t, &protocol.ListFiles{RootPath: t.TempDir()})
	c.send(t, protocol.Compress(&protocol.ListEnvironmentVariables{}))

	assert.IsType(t, &protocol.EnvironmentVariablesListed{}, c.recv(t))
	md := c.recv(t)
	require.IsType(t, &protocol.MetadataFetched{}, md)
	assert.Equal(t, protocol.FetchFileNotFound, md.(*protocol.MetadataFetched).Status)
	assert.IsType(t, &protocol.ListFilesResponse{}, c.recv(t))
	assert.IsType(t, &protocol.EnvironmentVariablesListed{}, c.recv(t))
}

func TestMalformedInputClosesOnlyThatConnection(t *testing.T) {
	cases := []struct {
		name  string
		input []byte
	}{
		{name: "oversized length", input: []byte{0xff, 0xff, 0xff, 0xff}},
		{name: "unknown discriminator", input: []byte{1, 0, 0, 0, 0x42}},
		{name: "trailing bytes", input: []byte{2, 0, 0, 0, byte(protocol.TypeListEnvironmentVariables), 0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := startServer(t)
			good := dial(t, s)
			good.handshake(t)

			bad := dial(t, s)
			bad.handshake(t)
			_, err := bad.nc.Write(c.input)
			require.NoError(t, err)
			bad.assertClosed(t)

			assert.IsType(t, &protocol.EnvironmentVariablesListed{}, good.roundTrip(t, &protocol.ListEnvironmentVariables{}))
		})
	}
}

func TestInvalidDeployKeepsConnection(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)
	c.handshake(t)

	resp := c.roundTrip(t, &protocol.Deploy{Destination: t.TempDir(), Data: []byte("not a zip")})
	require.IsType(t, &protocol.DeployCompleted{}, resp)
	assert.Equal(t, protocol.DeployFailure, resp.(*protocol.DeployCompleted).Status)

	assert.IsType(t, &protocol.EnvironmentVariablesListed{}, c.roundTrip(t, &protocol.ListEnvironmentVariables{}))
}

func TestMissingVersionExchangeClosesConnection(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := startServer(t, WithLogger(zap.New(core)))
	c := dial(t, s)

	c.send(t, &protocol.ListEnvironmentVariables{})
	c.assertClosed(t)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("client did not exchange versions first, closing connection").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnsupportedClientGetsResponseThenClose(t *testing.T) {
	s := startServer(t, WithMinClientVersion("2024.3.3"))
	c := dial(t, s)

	resp := c.roundTrip(t, &protocol.ExchangeVersions{ClientVersion: "2023.1.0", ClientPlatform: protocol.PlatformLinux})
	require.IsType(t, &protocol.ExchangeVersionsResponse{}, resp)
	ev := resp.(*protocol.ExchangeVersionsResponse)
	assert.Equal(t, protocol.ExchangeVersionsClientNotSupported, ev.Status)
	assert.Equal(t, Identity, ev.Info.ServerIdentity)
	c.assertClosed(t)
}

func TestPing(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	require.NoError(t, c.enc.EncodePing())
	pong := make([]byte, 4)
	_, err := io.ReadFull(c.nc, pong)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, pong)

	c.handshake(t)
}

func TestStopClosesConnections(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)
	c.handshake(t)

	require.NoError(t, s.Stop())
	c.assertClosed(t)

	_, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	assert.Error(t, err)
}

func TestNewRejectsInvalidMinimumVersion(t *testing.T) {
	_, err := New(WithLogger(zaptest.NewLogger(t)), WithMinClientVersion("not-a-version"))
	assert.Error(t, err)
}

func TestStatusEndpoint(t *testing.T) {
	s := startServer(t, WithStatusAddr("127.0.0.1:0"))
	c := dial(t, s)
	c.handshake(t)
	base := "http://" + s.StatusAddr().String()

	resp, err := http.Get(base + "/heartbeat")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hb HeartbeatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hb))
	assert.Equal(t, Identity, hb.Identity)
	assert.Equal(t, Version, hb.Version)
	assert.Equal(t, 1, hb.Connections)

	resp, err = http.Get(base + "/connections")
	require.NoError(t, err)
	defer resp.Body.Close()
	var conns []ConnectionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conns))
	require.Len(t, conns, 1)
	assert.Equal(t, "tcp", conns[0].Transport)
	assert.Equal(t, uint64(1), conns[0].Commands)
	assert.NotEmpty(t, conns[0].Session)
}

func TestWebSocketTransport(t *testing.T) {
	s := startServer(t, WithStatusAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	wsConn, _, err := websocket.Dial(ctx, "ws://"+s.StatusAddr().String()+"/ws", nil)
	require.NoError(t, err)
	c := newRawClient(t, websocket.NetConn(ctx, wsConn, websocket.MessageBinary))

	c.handshake(t)
	assert.IsType(t, &protocol.EnvironmentVariablesListed{}, c.roundTrip(t, &protocol.ListEnvironmentVariables{}))

	require.NoError(t, c.enc.EncodePing())
	pong := make([]byte, 4)
	_, err = io.ReadFull(c.nc, pong)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, pong)
}
