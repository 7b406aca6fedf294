package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsrad/debugserver/internal/config"
	"github.com/vsrad/debugserver/protocol"
	"github.com/vsrad/debugserver/server"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func startServer(t *testing.T) *server.Server {
	s, err := server.New(
		server.WithListenAddr("127.0.0.1:0"),
		server.WithStatusAddr("127.0.0.1:0"),
		server.WithLogger(zaptest.NewLogger(t)),
	)
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

func dial(t *testing.T, s *server.Server, opts ...Option) *Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := Dial(ctx, s.Addr().String(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestVersionsShareOneSource(t *testing.T) {
	assert.Equal(t, server.Version, DefaultVersion)
	assert.Equal(t, server.Version, config.Defaults.MinClientVersion)
}

func TestDialExchangesVersions(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	info := c.Capabilities()
	assert.Equal(t, server.Identity, info.ServerIdentity)
	assert.Equal(t, server.Version, info.Version)
	assert.True(t, info.Has(protocol.CapabilityCompressedCommands))
}

func TestDialRejectsOldClient(t *testing.T) {
	s := startServer(t)
	_, err := Dial(testContext(t), s.Addr().String(), WithVersion("2020.1.1"))
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestListEnvironmentVariables(t *testing.T) {
	t.Setenv("DEBUGSERVER_CLIENT_TEST", "present")
	s := startServer(t)

	for _, compress := range []bool{false, true} {
		c := dial(t, s, WithCompression(compress))
		vars, err := c.ListEnvironmentVariables(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, "present", vars["DEBUGSERVER_CLIENT_TEST"])
	}
}

func TestDeployThenReadBack(t *testing.T) {
	s := startServer(t)
	c := dial(t, s, WithCompression(true))
	ctx := testContext(t)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "out"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "out", "result.bin"), []byte("0123456789"), 0644))
	dest := t.TempDir()

	deployed, err := c.DeployDir(ctx, src, dest, true)
	require.NoError(t, err)
	require.Equal(t, protocol.DeploySuccessful, deployed.Status)

	files, err := c.ListFiles(ctx, &protocol.ListFiles{RootPath: dest, Globs: []string{"**/*.bin"}})
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.RelativePath)
	}
	assert.Equal(t, []string{"./", "out/", "out/result.bin"}, names)

	md, err := c.FetchMetadata(ctx, &protocol.FetchMetadata{FilePath: []string{dest, "out", "result.bin"}, BinaryOutput: true})
	require.NoError(t, err)
	assert.Equal(t, protocol.FetchSuccessful, md.Status)
	assert.Equal(t, int32(10), md.ByteCount)

	rng, err := c.FetchResultRange(ctx, &protocol.FetchResultRange{
		FilePath:     []string{dest, "out", "result.bin"},
		BinaryOutput: true,
		ByteOffset:   2,
		ByteCount:    4,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), rng.Data)

	got, err := c.GetFiles(ctx, &protocol.GetFiles{RootPath: dest, Paths: []string{"out/result.bin"}})
	require.NoError(t, err)
	require.Equal(t, protocol.GetFilesSuccessful, got.Status)
	require.Len(t, got.Files, 1)
	assert.Equal(t, []byte("0123456789"), got.Files[0].Data)

	put, err := c.PutFiles(ctx, &protocol.PutFiles{RootPath: dest, Files: got.Files[:1]})
	require.NoError(t, err)
	assert.Equal(t, protocol.PutFilesSuccessful, put.Status)
}

func TestPing(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	_, err := c.Ping(testContext(t))
	require.NoError(t, err)
	_, err = c.ListEnvironmentVariables(testContext(t))
	assert.NoError(t, err)
}

func TestClosedClient(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)
	require.NoError(t, c.Close())

	_, err := c.ListEnvironmentVariables(testContext(t))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWebSocket(t *testing.T) {
	s := startServer(t)
	sc := NewStatusClient(s.StatusAddr().String())

	c, err := DialWebSocket(testContext(t), sc.WebSocketURL(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.Equal(t, server.Identity, c.Capabilities().ServerIdentity)
	_, err = c.ListEnvironmentVariables(testContext(t))
	assert.NoError(t, err)
}

func TestStatusClient(t *testing.T) {
	s := startServer(t)
	dial(t, s)
	sc := NewStatusClient(s.StatusAddr().String(), WithStatusLogger(zaptest.NewLogger(t)))
	ctx := testContext(t)

	require.NoError(t, sc.WaitForServer(ctx))

	hb, err := sc.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, server.Identity, hb.Identity)
	assert.Equal(t, 1, hb.Connections)

	conns, err := sc.Connections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "tcp", conns[0].Transport)
	assert.Equal(t, "reading", conns[0].State)

	hb, err = FetchStatus(ctx, "http://"+s.StatusAddr().String()+"/")
	require.NoError(t, err)
	assert.Equal(t, server.Version, hb.Version)
}

func TestConcurrentClients(t *testing.T) {
	s := startServer(t)

	// In parallel, deploy a distinct file from each client and read it back.
	group, groupCtx := errgroup.WithContext(testContext(t))
	for i := 0; i < 8; i++ {
		i := i
		c := dial(t, s)
		group.Go(func() error {
			src := t.TempDir()
			want := fmt.Sprintf("client %d", i)
			if err := os.WriteFile(filepath.Join(src, "data.bin"), []byte(want), 0644); err != nil {
				return err
			}
			dest := t.TempDir()
			deployed, err := c.DeployDir(groupCtx, src, dest, false)
			if err != nil {
				return err
			}
			if deployed.Status != protocol.DeploySuccessful {
				return fmt.Errorf("client %d: deploy failed", i)
			}
			rng, err := c.FetchResultRange(groupCtx, &protocol.FetchResultRange{FilePath: []string{dest, "data.bin"}, BinaryOutput: true})
			if err != nil {
				return err
			}
			if string(rng.Data) != want {
				return fmt.Errorf("client %d: got %q", i, rng.Data)
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
}
