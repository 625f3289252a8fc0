// Package server is the TCP transport: it accepts connections, frames
// the byte stream, and feeds complete frames to the command handler
// through a single dispatch goroutine. Outbound writes go through
// per-connection writer goroutines so one stalled client cannot block
// the rest.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/metrics"
)

const (
	// outboundDepth bounds the per-connection write queue. A client
	// that falls this far behind is dropped as a slow consumer.
	outboundDepth = 64

	writeTimeout  = 5 * time.Second
	sweepInterval = 5 * time.Second
)

// ErrUnknownConn is returned by WriteFrame for a handle that is not
// attached.
var ErrUnknownConn = errors.New("unknown connection handle")

// Config carries the transport's runtime parameters.
type Config struct {
	Addr        string
	MaxClients  int
	IdleTimeout time.Duration
}

type conn struct {
	handle   int
	nc       net.Conn
	outbound chan []byte
	done     chan struct{}
	once     sync.Once
}

// Server owns the listener and the connection table. It implements
// core.FrameWriter for the router and handler.
type Server struct {
	cfg     Config
	reg     *core.Registry
	handler *core.Handler
	log     zerolog.Logger

	mu         sync.Mutex
	ln         net.Listener
	conns      map[int]*conn
	nextHandle int

	frames chan inboundFrame
	ready  chan struct{}
	wg     sync.WaitGroup
}

type inboundFrame struct {
	handle int
	raw    string
}

// New builds the transport. The handler is attached separately because
// it needs the server as its frame writer.
func New(cfg Config, reg *core.Registry, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		reg:        reg,
		log:        logger.With().Str("component", "tcp").Logger(),
		conns:      make(map[int]*conn),
		nextHandle: 1,
		frames:     make(chan inboundFrame, 256),
		ready:      make(chan struct{}),
	}
}

// SetHandler attaches the command handler. Must be called before Run.
func (s *Server) SetHandler(h *core.Handler) {
	s.handler = h
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or nil before Run has bound
// the listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run listens on the configured address and serves until ctx is
// cancelled, then closes every connection and waits for the per-conn
// goroutines to drain.
func (s *Server) Run(ctx context.Context) error {
	if s.handler == nil {
		return errors.New("server: no handler attached")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.log.Info().Str("addr", ln.Addr().String()).
		Int("max_clients", s.cfg.MaxClients).Msg("listening")

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)

	dispatchDone := make(chan struct{})
	go s.dispatch(ctx, dispatchDone)

	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- s.acceptLoop(ctx, ln)
	}()

	var acceptErr error
	select {
	case <-ctx.Done():
		ln.Close()
		<-acceptDone
	case acceptErr = <-acceptDone:
		ln.Close()
		cancel()
	}

	s.closeAll()
	s.wg.Wait()
	<-dispatchDone

	s.log.Info().Msg("transport stopped")
	return acceptErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("accept failed")
			return err
		}

		if s.reg.Count() >= s.cfg.MaxClients {
			s.refuse(nc)
			continue
		}
		s.attach(ctx, nc)
	}
}

// refuse closes an over-capacity connection immediately. The client
// was never attached, so no reply is possible.
func (s *Server) refuse(nc net.Conn) {
	metrics.ConnectionsRefused.Inc()
	s.log.Warn().Str("remote", nc.RemoteAddr().String()).Msg("connection refused: server full")
	nc.Close()
}

func (s *Server) attach(ctx context.Context, nc net.Conn) {
	ip, port := remoteAddr(nc)

	s.mu.Lock()
	handle := s.nextHandle
	s.nextHandle++
	c := &conn{
		handle:   handle,
		nc:       nc,
		outbound: make(chan []byte, outboundDepth),
		done:     make(chan struct{}),
	}
	s.conns[handle] = c
	s.mu.Unlock()

	client := s.reg.Add(handle, ip, port)
	metrics.ConnectionsActive.Inc()
	s.log.Info().Int("handle", handle).Str("remote", nc.RemoteAddr().String()).
		Str("trace_id", client.TraceID).Msg("client connected")

	s.wg.Add(2)
	go s.readLoop(ctx, c)
	go s.writeLoop(c)
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	defer s.wg.Done()
	defer s.drop(c, "read loop ended")

	sc := NewFrameScanner(bufio.NewReader(c.nc))
	for sc.Scan() {
		s.reg.Touch(c.handle)
		select {
		case s.frames <- inboundFrame{handle: c.handle, raw: sc.Text()}:
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		s.log.Debug().Err(err).Int("handle", c.handle).Msg("read failed")
	}
}

func (s *Server) writeLoop(c *conn) {
	defer s.wg.Done()
	for {
		select {
		case frame := <-c.outbound:
			c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.nc.Write(frame); err != nil {
				s.log.Debug().Err(err).Int("handle", c.handle).Msg("write failed")
				s.drop(c, "write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// dispatch is the single goroutine that applies frames to the handler,
// preserving per-connection ordering and serializing all state
// transitions the way a single event loop would. It also runs the
// periodic idle sweep.
func (s *Server) dispatch(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-s.frames:
			s.handler.HandleFrame(ctx, f.handle, f.raw)
		case <-ticker.C:
			s.sweepIdle()
		case <-ctx.Done():
			return
		}
	}
}

// sweepIdle disconnects clients whose last activity is older than the
// configured idle timeout. A zero timeout disables the sweep.
func (s *Server) sweepIdle() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.IdleTimeout)
	for _, client := range s.reg.Snapshot() {
		if client.LastActive.Before(cutoff) {
			s.log.Info().Int("handle", client.Handle).Str("user", client.Username).
				Msg("idle timeout")
			if c := s.lookup(client.Handle); c != nil {
				s.drop(c, "idle timeout")
			}
		}
	}
}

// WriteFrame queues a frame for the connection's writer. A full queue
// means the client cannot keep up; it is dropped rather than allowed
// to stall delivery to everyone else.
func (s *Server) WriteFrame(handle int, frame []byte) error {
	c := s.lookup(handle)
	if c == nil {
		return ErrUnknownConn
	}

	select {
	case c.outbound <- frame:
		return nil
	case <-c.done:
		return ErrUnknownConn
	default:
		s.log.Warn().Int("handle", handle).Msg("slow consumer dropped")
		s.drop(c, "outbound queue full")
		return fmt.Errorf("connection %d: outbound queue full", handle)
	}
}

func (s *Server) lookup(handle int) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[handle]
}

// drop tears a connection down exactly once: socket closed, table
// entry removed, disconnect surfaced to the handler for the implicit
// logout and presence notice.
func (s *Server) drop(c *conn, reason string) {
	c.once.Do(func() {
		close(c.done)
		c.nc.Close()

		s.mu.Lock()
		delete(s.conns, c.handle)
		s.mu.Unlock()

		metrics.ConnectionsActive.Dec()
		s.log.Debug().Int("handle", c.handle).Str("reason", reason).Msg("connection dropped")
		s.handler.HandleDisconnect(c.handle)
	})
}

func (s *Server) closeAll() {
	s.mu.Lock()
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		s.drop(c, "server shutdown")
	}
}

func remoteAddr(nc net.Conn) (string, int) {
	if tcp, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	return nc.RemoteAddr().String(), 0
}
