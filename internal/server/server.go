// Package server runs the lobby protocol: it accepts connections and drives
// one handler goroutine per client against the shared registry and
// coordinator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/engine"
	"github.com/DoyleJ11/dungeon-lobby/internal/lobby"
	"github.com/DoyleJ11/dungeon-lobby/internal/transport"
)

const DefaultPort = 6000

var ErrServerClosed = errors.New("server closed")

type Server struct {
	registry     *lobby.Registry
	coordinator  *engine.Coordinator
	logger       *zap.Logger
	writeTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	streams  map[Stream]struct{}
	closed   bool
	stopped  chan struct{}
	wg       sync.WaitGroup
}

func New(reg *lobby.Registry, coord *engine.Coordinator, logger *zap.Logger, writeTimeout time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry:     reg,
		coordinator:  coord,
		logger:       logger,
		writeTimeout: writeTimeout,
		streams:      make(map[Stream]struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start binds host:port and serves in the background until ctx is cancelled
// or Close is called. Use Addr for the bound address when port is 0.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	ln, err := s.listen(host, port)
	if err != nil {
		return err
	}
	go func() {
		if err := s.Serve(ctx, ln); err != nil && !errors.Is(err, ErrServerClosed) {
			s.logger.Error("serve stopped", zap.Error(err))
		}
	}()
	return nil
}

// ListenAndServe binds host:port and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	ln, err := s.listen(host, port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) listen(host string, port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := s.setListener(ln); err != nil {
		_ = ln.Close()
		return nil, err
	}
	s.logger.Info("lobby server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("capacity", s.registry.Capacity()))
	return ln, nil
}

func (s *Server) setListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.listener = ln
	return nil
}

// Serve accepts connections on ln until ctx is cancelled or Close is called,
// and returns nil in both cases. Connections are never refused here; the
// join handshake enforces capacity so a rejected client still gets an error
// frame.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.setListener(ln); err != nil {
		_ = ln.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Transient accept failures (e.g. out of file descriptors) back off
			// and retry.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}
			s.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0

		conn := transport.NewConn(c, s.writeTimeout, s.logger)
		s.logger.Debug("connection accepted",
			zap.String("conn_id", conn.ID()),
			zap.String("remote", conn.RemoteAddr()))
		go s.ServeStream(ctx, conn)
	}
}

// ServeStream runs the protocol on st until the peer leaves, the stream
// fails or the server closes. It blocks and always closes st.
func (s *Server) ServeStream(ctx context.Context, st Stream) {
	if !s.track(st) {
		_ = st.Close()
		return
	}
	defer s.untrack(st)

	newConnHandler(st, s.registry, s.coordinator, s.logger).run(ctx)
}

func (s *Server) track(st Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams[st] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(st Stream) {
	s.mu.Lock()
	delete(s.streams, st)
	s.mu.Unlock()
	s.wg.Done()
}

// Addr returns the listener address, or nil before the server is bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, closes every live stream and waits for their
// handlers to finish. Later calls wait for the first one to complete. It
// must not be called from inside a handler.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	ln := s.listener
	streams := make([]Stream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close listener: %w", cerr))
		}
	}
	for _, st := range streams {
		_ = st.Close()
	}
	s.wg.Wait()

	s.logger.Info("lobby server stopped")
	close(s.stopped)
	return err
}
