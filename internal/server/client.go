package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/mugate/internal/encryption"
	"github.com/udisondev/mugate/internal/protocol"
)

// Client is the game-client side of a connection. It uses the same factory
// as the server with the directions swapped: it encrypts client->server data
// and decrypts server->client data.
//
// The client knows whether it obfuscates, so its decision is resolved up front.
type Client struct {
	conn   net.Conn
	in     io.Reader
	framer *protocol.Framer

	mu  sync.Mutex
	out io.WriteCloser

	g      *errgroup.Group
	cancel context.CancelFunc
	stop   func() bool
	dec    encryption.Decryptor
}

// NewClient wraps conn and starts the client pipeline for the given port.
func NewClient(ctx context.Context, conn net.Conn, port int, factory encryption.Factory, usage encryption.HackCheckUsage, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ep := encryption.Endpoint{
		ID:       "client",
		Port:     port,
		Decision: encryption.NewResolvedDecision(usage),
		Logger:   logger.With("side", "client"),
	}

	var in io.Reader = conn
	dec, err := factory.CreateDecryptor(conn, encryption.ServerToClient, ep)
	if err != nil {
		return nil, fmt.Errorf("creating client decryptor: %w", err)
	}
	if dec != nil {
		in = dec.Reader()
	}

	var out io.WriteCloser = transportWriter{conn: conn}
	enc, err := factory.CreateEncryptor(out, encryption.ClientToServer, ep)
	if err != nil {
		return nil, fmt.Errorf("creating client encryptor: %w", err)
	}
	if enc != nil {
		out = enc.Writer()
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		_ = conn.Close()
	})
	if dec != nil {
		g.Go(func() error { return dec.Run(gctx) })
	}
	if enc != nil {
		g.Go(func() error { return enc.Run(gctx) })
	}

	return &Client{
		conn:   conn,
		in:     in,
		framer: protocol.NewFramer(in),
		out:    out,
		g:      g,
		cancel: cancel,
		stop:   stop,
		dec:    dec,
	}, nil
}

// Send writes one plain packet.
func (c *Client) Send(packet []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.out.Write(packet); err != nil {
		return fmt.Errorf("sending packet: %w", err)
	}
	return nil
}

// Next returns the next plain packet from the server, io.EOF once the server closed.
func (c *Client) Next() ([]byte, error) {
	return c.framer.Next()
}

// CloseWrite ends the outbound stream; the server sees EOF after the pipeline drained.
func (c *Client) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Close()
}

// Close tears the connection down and waits for the pipeline.
// Errors caused by the teardown itself are not reported.
func (c *Client) Close() error {
	c.stop()
	c.cancel()
	_ = c.conn.Close()
	if ps, ok := c.in.(interface{ CloseWithError(error) error }); ok {
		_ = ps.CloseWithError(net.ErrClosed)
	}

	err := c.g.Wait()
	if err == nil || closeLevel(err) == slog.LevelInfo {
		return nil
	}
	return err
}

// Wait blocks until the pipeline finished without tearing it down.
func (c *Client) Wait() error {
	err := c.g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
