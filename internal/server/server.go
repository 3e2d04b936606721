// Package server implements a development store server that speaks the binary
// protocol from pkg/protocol, so the proxy's wire backend can be exercised
// without an external Redis.
//
// Architecture:
//   - TCP listener with one handler per connection
//   - Connection handlers run on an ants pool sized by MaxConns; connections
//     beyond the limit are refused with an error response
//   - Commands are dispatched by name to handlers over an in-memory keyspace
//   - Graceful shutdown closes the listener and every open connection
//
// Example usage:
//
//	srv, err := server.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//
// The supported command set is listed in commands.go.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/cachemir/asyncproxy/internal/logging"
	"github.com/cachemir/asyncproxy/pkg/cache"
	"github.com/cachemir/asyncproxy/pkg/config"
	"github.com/cachemir/asyncproxy/pkg/protocol"
)

const shutdownTimeout = 5 * time.Second

// ErrServerClosed is returned by Listen and Start after Stop.
var ErrServerClosed = errors.New("server closed")

// Server represents a development store server instance.
//
// Example:
//
//	srv, _ := server.New(cfg)
//	if err := srv.Listen(); err != nil {
//		log.Fatal(err)
//	}
//	go srv.Serve()
//	defer srv.Stop()
type Server struct {
	cfg      *config.ServerConfig
	cache    *cache.Cache
	ownCache bool
	logger   zerolog.Logger
	handlers map[string]command
	pool     *ants.Pool

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Defaults to logging.Log.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCache serves an existing keyspace instead of a fresh one. The caller
// keeps ownership: Stop does not close it.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// New creates a Server for cfg. The server is not listening until Listen
// or Start is called.
func New(cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.Log,
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.New()
		s.ownCache = true
	}
	s.handlers = s.commandTable()

	pool, err := ants.NewPool(cfg.MaxConns,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			s.logger.Error().Interface("panic", p).Msg("connection handler panic")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Listen binds the configured address. With port 0 a free port is chosen;
// use Addr to find it.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return nil
	}

	addr := s.cfg.Address()
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("store server listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Stop is called, then returns nil.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("failed to accept connection")
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		if err := s.pool.Submit(func() { s.handleConnection(conn) }); err != nil {
			s.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).
				Msg("refusing connection")
			s.refuse(conn)
		}
	}
}

// Start listens and serves. It blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and all open connections and waits briefly for
// connection handlers to exit. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if releaseErr := s.pool.ReleaseTimeout(shutdownTimeout); releaseErr != nil {
		s.logger.Warn().Err(releaseErr).Msg("connection handlers still running")
	}
	if s.ownCache {
		s.cache.Close()
	}
	s.logger.Info().Msg("store server stopped")
	return err
}

// DisconnectAll closes every open client connection but keeps listening.
// Returns the number of connections closed.
func (s *Server) DisconnectAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.conns)
	for conn := range s.conns {
		_ = conn.Close()
	}
	return n
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) refuse(conn net.Conn) {
	defer s.untrack(conn)
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	_ = protocol.WriteResponse(conn, errorf("ERR max number of clients reached"))
}

func (s *Server) readTimeout() time.Duration {
	return time.Duration(s.cfg.ReadTimeout) * time.Second
}

func (s *Server) writeTimeout() time.Duration {
	return time.Duration(s.cfg.WriteTimeout) * time.Second
}

// handleConnection reads commands from one client until it disconnects,
// idles past the read timeout, or the server stops.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.untrack(conn)
	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("client connected")

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout())); err != nil {
			logger.Debug().Err(err).Msg("failed to set read deadline")
			return
		}

		cmd, err := protocol.ReadCommand(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug().Msg("client disconnected")
			} else {
				logger.Warn().Err(err).Msg("failed to read command")
			}
			return
		}

		resp := s.executeCommand(cmd)

		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout())); err != nil {
			logger.Debug().Err(err).Msg("failed to set write deadline")
			return
		}
		if err := protocol.WriteResponse(conn, resp); err != nil {
			logger.Warn().Err(err).Msg("failed to write response")
			return
		}
	}
}

// executeCommand checks arity and dispatches cmd to its handler.
func (s *Server) executeCommand(cmd *protocol.Command) *protocol.Response {
	name := cmd.Name()
	cmdSpec, ok := s.handlers[name]
	if !ok {
		return errorf("ERR unknown command '%s'", cmd.Args[0])
	}
	if !cmdSpec.accepts(len(cmd.Args)) {
		return errorf("ERR wrong number of arguments for '%s' command", cmd.Args[0])
	}
	s.logger.Debug().Str("command", name).Int("args", len(cmd.Args)-1).Msg("executing")
	return cmdSpec.handler(cmd.Args[1:])
}
