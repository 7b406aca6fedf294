package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/vsrad/debugserver/protocol"
	"github.com/vsrad/debugserver/server/handler"
	"nhooyr.io/websocket"
)

type connState int32

const (
	stateIdle connState = iota
	stateReading
	stateDispatching
	stateWriting
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateReading:
		return "reading"
	case stateDispatching:
		return "dispatching"
	case stateWriting:
		return "writing"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("connState(%d)", int32(s))
}

// conn serves the command loop of one client. Commands are handled strictly
// in order: the next frame is not read until the previous response is written.
type conn struct {
	id          uint64
	session     uuid.UUID
	transport   string
	remote      string
	connectedAt time.Time

	nc           net.Conn
	log          *connLog
	dec          *protocol.Decoder
	enc          *protocol.Encoder
	dispatcher   *handler.Dispatcher
	writeTimeout time.Duration

	// guard is held for the whole of a dispatch.
	guard     sync.Mutex
	state     atomic.Int32
	commands  atomic.Uint64
	closeOnce sync.Once
}

func newConn(s *Server, id uint64, nc net.Conn, remote, transport string) *conn {
	c := &conn{
		id:           id,
		session:      uuid.New(),
		transport:    transport,
		remote:       remote,
		connectedAt:  time.Now(),
		nc:           nc,
		writeTimeout: s.writeTimeout,
	}
	c.log = newConnLog(s.logger, id, c.session, transport)
	c.dec = protocol.NewDecoder(nc,
		protocol.WithMaxMessageSize(s.maxMessageSize),
		protocol.WithPongWriter(nc),
	)
	c.enc = protocol.NewEncoder(nc)

	var opts []handler.Option
	if s.verbose {
		opts = append(opts, handler.WithOutputObserver(c.log.Stdout, c.log.Stderr))
	}
	c.dispatcher = handler.NewDispatcher(s.env, c.log.log, opts...)
	return c
}

func (c *conn) getState() connState { return connState(c.state.Load()) }

func (c *conn) setState(s connState) {
	// Closed is terminal.
	for {
		old := c.state.Load()
		if connState(old) == stateClosed || c.state.CompareAndSwap(old, int32(s)) {
			return
		}
	}
}

func (c *conn) serve(ctx context.Context) {
	defer c.close()
	defer func() {
		if r := recover(); r != nil {
			c.log.FatalConnectionError(fmt.Errorf("panic serving connection: %v\n%s", r, debug.Stack()))
		}
	}()

	c.log.ConnectionEstablished(c.remote)
	for {
		c.setState(stateReading)
		cmd, n, err := c.dec.DecodeCommand()
		if err != nil {
			c.readFailed(err)
			return
		}
		c.log.CommandReceived(cmd, n)

		c.setState(stateDispatching)
		start := time.Now()
		resp, err := c.dispatch(ctx, cmd)
		c.commands.Add(1)
		if resp != nil {
			c.setState(stateWriting)
			if werr := c.write(resp); werr != nil {
				c.readFailed(werr)
				return
			}
		}
		c.log.CommandProcessed(time.Since(start))

		switch {
		case errors.Is(err, handler.ErrMissingVersionExchange):
			c.log.MissingVersionExchange()
			return
		case err != nil:
			c.log.FatalConnectionError(err)
			return
		}
		c.setState(stateIdle)
	}
}

func (c *conn) dispatch(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	c.guard.Lock()
	defer c.guard.Unlock()
	return c.dispatcher.Dispatch(ctx, cmd)
}

func (c *conn) write(resp protocol.Response) error {
	if c.writeTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	n, err := c.enc.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("writing %s: %w", resp.ResponseType(), err)
	}
	c.log.ResponseSent(resp, n)
	return nil
}

// readFailed logs why the connection ended. A peer going away is routine.
func (c *conn) readFailed(err error) {
	if c.getState() == stateClosed || isDisconnect(err) {
		c.log.ClientDisconnected()
		return
	}
	c.log.FatalConnectionError(err)
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		websocket.CloseStatus(err) != -1
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		c.nc.Close()
	})
}

// ConnectionInfo describes an open connection on the status endpoint.
type ConnectionInfo struct {
	ID          uint64
	Session     string
	Transport   string
	Remote      string
	State       string
	ConnectedAt string
	Commands    uint64
}

func (c *conn) info() ConnectionInfo {
	return ConnectionInfo{
		ID:          c.id,
		Session:     c.session.String(),
		Transport:   c.transport,
		Remote:      c.remote,
		State:       c.getState().String(),
		ConnectedAt: c.connectedAt.UTC().Format(time.RFC3339),
		Commands:    c.commands.Load(),
	}
}
