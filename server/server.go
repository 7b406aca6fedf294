package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/vsrad/debugserver/protocol"
	"github.com/vsrad/debugserver/internal/version"
	"github.com/vsrad/debugserver/server/handler"
	"github.com/vsrad/debugserver/server/process"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const (
	Identity          = "debugserver"
	DefaultListenAddr = "0.0.0.0:9339"
)

// Version is reported to clients during ExchangeVersions.
var Version = version.Version

// Server accepts client connections and serves each one on its own goroutine.
// A slow command on one connection never delays another.
type Server struct {
	logger *zap.SugaredLogger

	listenAddr       string
	statusAddr       string
	verbose          bool
	maxMessageSize   uint32
	writeTimeout     time.Duration
	minClientVersion string
	killWaitDelay    time.Duration

	env *handler.Environment

	ctx    context.Context
	cancel context.CancelFunc

	mut            sync.Mutex
	listener       net.Listener
	statusListener net.Listener
	statusServer   *http.Server
	conns          map[uint64]*conn

	nextID    atomic.Uint64
	startedAt time.Time
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithStatusAddr enables the HTTP status endpoint on addr.
func WithStatusAddr(addr string) Option {
	return func(s *Server) {
		s.statusAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Sugar()
	}
}

// WithVerbose echoes the output of executed programs to the log and logs at
// debug level. Without it the log level is raised to info.
func WithVerbose(v bool) Option {
	return func(s *Server) {
		s.verbose = v
	}
}

func WithMaxMessageSize(n uint32) Option {
	return func(s *Server) {
		s.maxMessageSize = n
	}
}

// WithWriteTimeout bounds how long writing a single response may take. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithMinClientVersion rejects clients older than v. An empty v accepts any client.
func WithMinClientVersion(v string) Option {
	return func(s *Server) {
		s.minClientVersion = v
	}
}

// WithKillWaitDelay bounds the wait for a killed program's output pipes to close.
func WithKillWaitDelay(d time.Duration) Option {
	return func(s *Server) {
		s.killWaitDelay = d
	}
}

// New constructs a server. Nothing is bound until Listen or Run.
func New(opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:           logger.Sugar(),
		listenAddr:       DefaultListenAddr,
		maxMessageSize:   protocol.DefaultMaxMessageSize,
		minClientVersion: Version,
		killWaitDelay:    process.DefaultWaitDelay,
		conns:            map[uint64]*conn{},
	}
	for _, o := range opts {
		o(s)
	}
	if !s.verbose {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(zapcore.InfoLevel))
	}
	s.logger = s.logger.Named("server")

	var minVersion *semver.Version
	if s.minClientVersion != "" {
		minVersion, err = semver.NewVersion(s.minClientVersion)
		if err != nil {
			return nil, fmt.Errorf("parsing minimum client version: %w", err)
		}
	}
	supervisor := process.NewSupervisor(s.logger.Named("process"))
	supervisor.WaitDelay = s.killWaitDelay
	s.env = &handler.Environment{
		Supervisor:       supervisor,
		Capabilities:     handler.ServerCapabilities(Identity, Version),
		MinClientVersion: minVersion,
		MaxUnpackedSize:  int64(s.maxMessageSize),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Listen binds the command listener and, if configured, the status endpoint.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		s.logger.Errorw("could not start server", "Addr", s.listenAddr, "Err", err)
		return fmt.Errorf("listening TCP: %w", err)
	}
	var sl net.Listener
	if s.statusAddr != "" {
		sl, err = net.Listen("tcp", s.statusAddr)
		if err != nil {
			l.Close()
			s.logger.Errorw("could not start status endpoint", "Addr", s.statusAddr, "Err", err)
			return fmt.Errorf("listening TCP for status: %w", err)
		}
	}

	s.mut.Lock()
	s.listener = l
	s.statusListener = sl
	s.startedAt = time.Now()
	s.mut.Unlock()

	s.logger.Infow("server started", "Addr", l.Addr().String(), "Version", Version, "Verbose", s.verbose)
	if sl != nil {
		s.logger.Infow("status endpoint started", "Addr", sl.Addr().String())
	}
	return nil
}

// Addr is the bound command address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StatusAddr is the bound status endpoint address, or nil if it is disabled.
func (s *Server) StatusAddr() net.Addr {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.statusListener == nil {
		return nil
	}
	return s.statusListener.Addr()
}

// Run listens and serves until ctx is done or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections on the listeners bound by Listen. It returns nil
// after Stop.
func (s *Server) Serve(ctx context.Context) error {
	s.mut.Lock()
	l, sl := s.listener, s.statusListener
	s.mut.Unlock()
	if l == nil {
		return errors.New("server is not listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.ctx.Done():
		}
		return s.Stop()
	})
	g.Go(func() error {
		return s.acceptLoop(l)
	})
	if sl != nil {
		g.Go(func() error {
			return s.serveStatus(sl)
		})
	}
	return g.Wait()
}

func (s *Server) acceptLoop(l net.Listener) error {
	var backoff time.Duration
	for {
		nc, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Out of file descriptors and similar; keep the listener alive.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warnw("accept failed, retrying", "Err", err, "Backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(nc, nc.RemoteAddr().String(), "tcp")
		}()
	}
}

// serveConn runs the command loop for one client and blocks until it ends.
func (s *Server) serveConn(nc net.Conn, remote, transport string) {
	id := s.nextID.Add(1)
	c := newConn(s, id, nc, remote, transport)

	s.mut.Lock()
	s.conns[id] = c
	s.mut.Unlock()
	defer func() {
		s.mut.Lock()
		delete(s.conns, id)
		s.mut.Unlock()
	}()

	if s.ctx.Err() != nil {
		c.close()
		return
	}
	c.serve(s.ctx)
}

// Stop closes the listeners and every open connection, kills running
// programs, and waits for all connection goroutines to return.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()

		s.mut.Lock()
		if s.listener != nil {
			err = s.listener.Close()
		}
		if s.statusServer != nil {
			s.statusServer.Close()
		} else if s.statusListener != nil {
			s.statusListener.Close()
		}
		conns := make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mut.Unlock()

		for _, c := range conns {
			c.close()
		}
		s.wg.Wait()
		s.logger.Info("server stopped")
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
