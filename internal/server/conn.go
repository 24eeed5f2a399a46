package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/mugate/internal/constants"
	"github.com/udisondev/mugate/internal/encryption"
	"github.com/udisondev/mugate/internal/protocol"
)

// ErrConnClosed is returned by Send after the outbound side was closed.
var ErrConnClosed = errors.New("connection closed")

// Conn is one accepted client connection with its encryption pipeline.
type Conn struct {
	id          string
	port        int
	remote      string
	netConn     net.Conn
	logger      *slog.Logger
	decision    *encryption.Decision
	connectedAt time.Time

	dec encryption.Decryptor // nil if the port does not transform inbound data

	mu     sync.Mutex // serializes Send and closeOutbound
	out    io.WriteCloser
	closed bool

	packets atomic.Int64
}

type connOptions struct {
	readTimeout  time.Duration
	writeTimeout time.Duration
	sendHello    bool
}

func newConn(netConn net.Conn, port int, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	remote := netConn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	return &Conn{
		id:          id,
		port:        port,
		remote:      remote,
		netConn:     netConn,
		logger:      logger.With("conn", id, "remote", remote, "port", port),
		decision:    encryption.NewDecision(),
		connectedAt: time.Now(),
	}
}

// ID returns the connection id (uuid v4).
func (c *Conn) ID() string {
	return c.id
}

// Port returns the configured listener port the connection was accepted on.
func (c *Conn) Port() int {
	return c.port
}

// RemoteAddr returns the client's IP (or the raw address if it has no port).
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() *slog.Logger {
	return c.logger
}

// Packets returns the number of inbound packets handled so far.
func (c *Conn) Packets() int64 {
	return c.packets.Load()
}

// HackCheck returns the hack-check decision. ok is false while undecided.
func (c *Conn) HackCheck() (encryption.HackCheckUsage, bool) {
	return c.decision.TryGet()
}

// Send writes a plain packet to the client through the outbound pipeline.
// It blocks until the pipeline accepted the packet.
func (c *Conn) Send(packet []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.out == nil {
		return ErrConnClosed
	}
	if _, err := c.out.Write(packet); err != nil {
		return fmt.Errorf("sending packet: %w", err)
	}
	return nil
}

func (c *Conn) closeOutbound() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.out == nil {
		return nil
	}
	c.closed = true
	return c.out.Close()
}

// serve builds the pipeline and runs it until both directions are finished.
// Any stage error cancels the rest and closes the socket.
func (c *Conn) serve(ctx context.Context, factory encryption.Factory, handler PacketHandler, opts connOptions) error {
	ep := encryption.Endpoint{ID: c.id, Port: c.port, Decision: c.decision, Logger: c.logger}

	var in io.Reader = transportReader{conn: c.netConn, timeout: opts.readTimeout}
	dec, err := factory.CreateDecryptor(in, encryption.ClientToServer, ep)
	if err != nil {
		return fmt.Errorf("creating decryptor: %w", err)
	}
	if dec != nil {
		in = dec.Reader()
		c.dec = dec
	}

	var out io.WriteCloser = transportWriter{conn: c.netConn, timeout: opts.writeTimeout}
	enc, err := factory.CreateEncryptor(out, encryption.ServerToClient, ep)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil {
		out = enc.Writer()
	}
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	// Transport reads ignore ctx; closing the socket is what unblocks them.
	stop := context.AfterFunc(gctx, func() {
		_ = c.netConn.Close()
	})
	defer stop()

	if dec != nil {
		g.Go(func() error { return dec.Run(gctx) })
	}
	if enc != nil {
		g.Go(func() error { return enc.Run(gctx) })
	}
	g.Go(func() error {
		err := c.readLoop(gctx, in, handler)
		if cerr := c.closeOutbound(); cerr != nil && err == nil {
			err = fmt.Errorf("closing outbound: %w", cerr)
		}
		return err
	})
	if opts.sendHello {
		g.Go(func() error {
			if err := c.Send(constants.HelloPacket[:]); err != nil {
				c.logger.Debug("hello not sent", "err", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (c *Conn) readLoop(ctx context.Context, in io.Reader, handler PacketHandler) (retErr error) {
	// Unblock the last decryptor stage if we stop reading early.
	if ps, ok := in.(interface{ CloseWithError(error) error }); ok {
		defer func() { _ = ps.CloseWithError(retErr) }()
	}

	framer := protocol.NewFramer(in)
	for {
		packet, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		c.packets.Add(1)
		if err := handler.HandlePacket(ctx, c, packet); err != nil {
			return fmt.Errorf("handling packet %s: %w", protocol.Preview(packet), err)
		}
	}
}

// transportReader applies the idle read deadline before every read.
// A conn whose peer already closed may refuse the deadline; the read still
// runs so the caller sees the real end of stream.
type transportReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r transportReader) Read(b []byte) (int, error) {
	if r.timeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	}
	return r.conn.Read(b)
}

// transportWriter applies the write deadline and half-closes on Close.
type transportWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w transportWriter) Write(b []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.conn.Write(b)
}

func (w transportWriter) Close() error {
	if cw, ok := w.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
