// Package server implements the TCP listener and request dispatcher: one
// job per accepted connection, submitted to a thread pool (internal/pool),
// reading exactly one request frame, dispatching it to an engine handle,
// and writing exactly one response frame before closing the connection.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/epokhe/hobbes/core"
	"github.com/epokhe/hobbes/internal/pool"
	"github.com/epokhe/hobbes/internal/wire"
)

// Server binds a TCP listener and dispatches each accepted connection to
// a worker pool. Each connection job uses its own cloned engine handle:
// handles are never shared across workers.
type Server struct {
	addr     string
	engine   core.Engine
	pool     *pool.Pool
	logger   zerolog.Logger
	listener net.Listener

	// handles is a free list of cloned engine handles, reused across
	// connections so each handle's lazily-populated segment fd cache keeps
	// paying off instead of starting cold on every request.
	handles sync.Pool

	closeOnce sync.Once
}

// New constructs a Server bound to addr, dispatching onto a pool of
// poolSize workers (runtime.NumCPU() if <= 0) sharing engine.
func New(addr string, engine core.Engine, poolSize int, logger zerolog.Logger) *Server {
	s := &Server{
		addr:   addr,
		engine: engine,
		pool:   pool.New(poolSize, 1024, logger),
		logger: logger,
	}
	s.handles.New = func() any {
		h, err := s.engine.CloneHandle()
		if err != nil {
			return err
		}
		return h
	}
	return s
}

// Addr returns the listener's actual bound address, valid once
// ListenAndServe has started listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// ListenAndServe binds the listener and serves until the listener is
// closed via Shutdown, returning nil in that case.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", s.addr, err)
	}
	s.listener = ln

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.pool.Submit(func() { s.handleConn(conn) })
	}
}

// handleConn reads exactly one request frame, dispatches it, writes
// exactly one response frame, and closes the connection: one-shot per
// connection, no pipelining.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close() // nolint:errcheck

	pooled := s.handles.Get()
	if err, ok := pooled.(error); ok {
		s.logger.Error().Err(err).Msg("clone handle failed")
		_ = wire.WriteResponse(conn, wire.Response{Status: wire.Err, Message: err.Error()})
		return
	}
	handle := pooled.(core.Engine)
	defer s.handles.Put(handle)

	reader := bufio.NewReader(conn)

	req, err := wire.ReadRequest(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return // peer closed before sending anything
		}
		s.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("malformed request")
		_ = wire.WriteResponse(conn, wire.Response{Status: wire.Err, Message: err.Error()})
		return
	}

	resp := s.dispatch(handle, req)
	if err := wire.WriteResponse(conn, resp); err != nil {
		s.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("write response failed")
	}
}

func (s *Server) dispatch(handle core.Engine, req wire.Request) wire.Response {
	switch req.Verb {
	case wire.Get:
		val, err := handle.Get(req.Key)
		if err != nil {
			return errResponse(err)
		}
		return wire.Response{Status: wire.OK, Value: val, HasValue: true}

	case wire.Set:
		if err := handle.Set(req.Key, req.Value); err != nil {
			return errResponse(err)
		}
		return wire.Response{Status: wire.OK}

	case wire.Rm:
		if err := handle.Remove(req.Key); err != nil {
			return errResponse(err)
		}
		return wire.Response{Status: wire.OK}

	default:
		return wire.Response{Status: wire.Err, Message: fmt.Sprintf("unknown verb %q", req.Verb)}
	}
}

func errResponse(err error) wire.Response {
	if errors.Is(err, core.ErrKeyNotFound) {
		return wire.Response{Status: wire.Err, Message: wire.KeyNotFoundMessage}
	}
	return wire.Response{Status: wire.Err, Message: err.Error()}
}

// Shutdown stops accepting new connections and drains the worker pool.
func (s *Server) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		if s.listener != nil {
			err = s.listener.Close()
		}
		_ = s.pool.Shutdown()
	})
	return err
}
