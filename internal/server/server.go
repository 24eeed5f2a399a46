package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/mugate/internal/config"
	"github.com/udisondev/mugate/internal/db"
	"github.com/udisondev/mugate/internal/encryption"
	"github.com/udisondev/mugate/internal/protocol"
)

const recordTimeout = 5 * time.Second

// DetectionRecorder stores the detection outcome of a closed connection.
type DetectionRecorder interface {
	RecordDetection(ctx context.Context, d db.Detection) error
}

// ServerOption is a functional option for Server configuration.
type ServerOption func(*Server)

// WithHandler sets the packet handler. Default is LogHandler (EchoHandler if cfg.Echo).
func WithHandler(h PacketHandler) ServerOption {
	return func(s *Server) {
		s.handler = h
	}
}

// WithRecorder enables the detection audit.
func WithRecorder(r DetectionRecorder) ServerOption {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithFactory replaces the port-aware factory built from cfg.
func WithFactory(f encryption.Factory) ServerOption {
	return func(s *Server) {
		s.factory = f
	}
}

// WithLogger sets the base logger. Default is slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// Server accepts client connections on every configured listener and runs
// the encryption pipeline for each of them.
type Server struct {
	cfg      config.GameServer
	factory  encryption.Factory
	handler  PacketHandler
	recorder DetectionRecorder
	logger   *slog.Logger

	active atomic.Int64

	mu        sync.Mutex
	listeners map[string]net.Listener // by listener name
}

// NewServer creates a Server. The encryption factory is built from cfg unless
// WithFactory is given.
func NewServer(cfg config.GameServer, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		handler:   LogHandler{},
		logger:    slog.Default(),
		listeners: make(map[string]net.Listener),
	}
	if cfg.Echo {
		s.handler = EchoHandler{}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.factory == nil {
		f, err := encryption.NewPortAwareFactory(cfg.Encryption, cfg.Listeners)
		if err != nil {
			return nil, fmt.Errorf("creating encryption factory: %w", err)
		}
		s.factory = f
	}
	return s, nil
}

// Run listens on every configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listeners := make([]net.Listener, 0, len(s.cfg.Listeners))
	for _, l := range s.cfg.Listeners {
		addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(l.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range s.cfg.Listeners {
		ln := listeners[i]
		g.Go(func() error {
			return s.Serve(gctx, ln, l)
		})
	}
	return g.Wait()
}

// Serve runs the accept loop of one listener. l.Port selects the encryption
// schemes, so tests may serve a random port under a configured one.
func (s *Server) Serve(ctx context.Context, ln net.Listener, l config.Listener) error {
	s.mu.Lock()
	s.listeners[l.Name] = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	s.logger.Info("listener started", "name", l.Name, "port", l.Port, "address", ln.Addr())
	s.acceptLoop(ctx, &wg, ln, l)

	wg.Wait()
	s.logger.Info("listener stopped", "name", l.Name, "port", l.Port)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener, l config.Listener) {
	for {
		netConn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("failed to accept new connection", "port", l.Port, "err", err)
			continue
		}
		wg.Go(func() {
			s.handleConnection(ctx, netConn, l)
		})
	}
}

func (s *Server) handleConnection(ctx context.Context, netConn net.Conn, l config.Listener) {
	defer netConn.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	c := newConn(netConn, l.Port, s.logger)
	c.logger.Info("new connection", "listener", l.Name)

	err := c.serve(ctx, s.factory, s.handler, connOptions{
		readTimeout:  s.cfg.ReadTimeout,
		writeTimeout: s.cfg.WriteTimeout,
		sendHello:    s.cfg.SendHello,
	})
	// Ports without a hack-check stage never decide on their own.
	c.decision.SetIfUnknown(encryption.HackCheckInactive)

	det := s.detection(c, err)
	c.logger.Log(ctx, closeLevel(err), "connection closed",
		"hackcheck", det.HackCheck,
		"xor32_key", det.Xor32Key,
		"packets", det.Packets,
		"reason", det.CloseReason)

	s.record(ctx, c, det)
}

func (s *Server) detection(c *Conn, err error) db.Detection {
	usage, _ := c.decision.TryGet()
	det := db.Detection{
		ConnID:      c.id,
		RemoteAddr:  c.remote,
		Port:        c.port,
		HackCheck:   strings.ToLower(usage.String()),
		Packets:     c.Packets(),
		CloseReason: "EOF",
		ConnectedAt: c.connectedAt,
		ClosedAt:    time.Now(),
	}
	if c.dec != nil {
		if sel, ok := encryption.KeySelectionOf(c.dec); ok {
			det.Xor32Key = sel.String()
		}
	}
	if err != nil {
		det.CloseReason = err.Error()
	}
	return det
}

func (s *Server) record(ctx context.Context, c *Conn, det db.Detection) {
	if s.recorder == nil {
		return
	}

	// The connection may be closing because ctx is done; the audit row is still written.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordDetection(rctx, det); err != nil {
		c.logger.Warn("failed to record detection", "err", err)
	}
}

// closeLevel logs ordinary disconnects at info and protocol or I/O failures at warn.
func closeLevel(err error) slog.Level {
	var truncated *protocol.TruncatedStreamError
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &truncated):
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// Addr returns the address of the named listener, nil if it is not serving yet.
func (s *Server) Addr(name string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	ln, ok := s.listeners[name]
	if !ok {
		return nil
	}
	return ln.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Close closes all listeners. Running connections finish on their own or
// when the Serve context is done.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
