// Package server implements the TCP front-end: it accepts connections and
// hands each one to a worker pool, where its requests are decoded off the
// wire protocol and served against a per-connection clone of the storage
// engine.
package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/rivulet/kvs/internal/kverrors"
	"github.com/rivulet/kvs/internal/pool"
	"github.com/rivulet/kvs/internal/protocol"
	"github.com/rivulet/kvs/internal/store"
)

// Server accepts connections on a listener and serves them against an
// engine, dispatching request handling through a worker pool.
type Server struct {
	engine   store.Engine
	listener net.Listener
	workers  pool.Pool
	log      *zap.SugaredLogger

	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	closeErr error
}

// New wraps an already-open engine and listener. The caller owns opening
// both and remains responsible for closing the engine after Shutdown
// returns.
func New(engine store.Engine, listener net.Listener, workers pool.Pool, log *zap.SugaredLogger) *Server {
	return &Server{engine: engine, listener: listener, workers: workers, log: log}
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop until the listener is closed. It returns nil
// once Shutdown has closed the listener, and the Accept error otherwise. Each
// accepted connection's entire request loop runs as one job on the worker
// pool, so the configured pool size bounds concurrent connections, not just
// concurrent requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		if err := s.workers.Spawn(func() { s.handleConn(conn) }); err != nil {
			s.log.Warnw("failed to submit connection", "remote", conn.RemoteAddr(), "err", err)
			s.wg.Done()
			conn.Close()
		}
	}
}

// Shutdown stops accepting new connections, waits for in-flight
// connections to finish, and shuts down the worker pool.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closeErr
	}
	s.closed = true
	err := s.listener.Close()
	s.mu.Unlock()

	s.wg.Wait()
	s.workers.Shutdown()

	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()
	return err
}

// handleConn runs the whole request/response loop for one connection. It is
// submitted to the worker pool as a single job, so it owns the connection
// for its entire lifetime; the engine clone and reader cache it creates are
// never touched by any other goroutine.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	engine := s.engine.Clone()
	defer engine.Close()

	dec := protocol.NewDecoder(bufio.NewReader(conn))
	enc := protocol.NewEncoder(bufio.NewWriter(conn))

	for {
		req, err := dec.DecodeRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debugw("connection read failed", "remote", conn.RemoteAddr(), "err", err)
			}
			return
		}

		resp := dispatch(engine, req)
		if err := enc.EncodeResponse(resp); err != nil {
			s.log.Debugw("connection write failed", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

func errResponse(err error) protocol.Response {
	kind, _ := kverrors.KindOf(err)
	return protocol.Response{Err: err.Error(), Kind: string(kind)}
}

func dispatch(engine store.Engine, req protocol.Request) protocol.Response {
	switch req.Kind {
	case protocol.KindGet:
		val, ok, err := engine.Get(req.Key)
		if err != nil {
			return errResponse(err)
		}
		return protocol.Response{Val: val, Found: ok}

	case protocol.KindSet:
		if err := engine.Set(req.Key, req.Val); err != nil {
			return errResponse(err)
		}
		return protocol.Response{}

	case protocol.KindRemove:
		if err := engine.Remove(req.Key); err != nil {
			return errResponse(err)
		}
		return protocol.Response{}

	default:
		return errResponse(kverrors.Op(kverrors.KindUnknownCommand, "dispatch", kverrors.ErrUnknownCommand))
	}
}
