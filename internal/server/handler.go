package server

import (
	"context"
	"fmt"

	"github.com/udisondev/mugate/internal/protocol"
)

// PacketHandler receives every plain inbound packet of a connection.
// Returning an error closes the connection.
type PacketHandler interface {
	HandlePacket(ctx context.Context, c *Conn, packet []byte) error
}

// HandlerFunc adapts a function to PacketHandler.
type HandlerFunc func(ctx context.Context, c *Conn, packet []byte) error

func (f HandlerFunc) HandlePacket(ctx context.Context, c *Conn, packet []byte) error {
	return f(ctx, c, packet)
}

// LogHandler logs a preview of every packet at debug level.
type LogHandler struct{}

func (LogHandler) HandlePacket(_ context.Context, c *Conn, packet []byte) error {
	c.Logger().Debug("packet received",
		"len", len(packet),
		"head", protocol.Preview(packet))
	return nil
}

// EchoHandler logs the packet and sends it back unchanged.
type EchoHandler struct{}

func (EchoHandler) HandlePacket(ctx context.Context, c *Conn, packet []byte) error {
	if err := (LogHandler{}).HandlePacket(ctx, c, packet); err != nil {
		return err
	}
	if err := c.Send(packet); err != nil {
		return fmt.Errorf("echoing packet: %w", err)
	}
	return nil
}
