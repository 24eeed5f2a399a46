// Command probe dials a listener, sends sample packets through the client side
// of the configured pipeline and prints what comes back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/udisondev/mugate/internal/config"
	"github.com/udisondev/mugate/internal/constants"
	"github.com/udisondev/mugate/internal/encryption"
	"github.com/udisondev/mugate/internal/protocol"
	"github.com/udisondev/mugate/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		cfgPath   = flag.String("config", "config/gameserver.yaml", "server config with keys and listeners")
		addr      = flag.String("addr", "127.0.0.1:44405", "address to dial")
		port      = flag.Int("port", 0, "configured port to take schemes from (default: port of -addr)")
		hackCheck = flag.Bool("hackcheck", true, "obfuscate the stream like a hack-check client")
		wait      = flag.Duration("wait", 2*time.Second, "how long to wait for replies")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadGameServer(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if *port == 0 {
		_, p, err := net.SplitHostPort(*addr)
		if err != nil {
			return fmt.Errorf("parsing address %q: %w", *addr, err)
		}
		if *port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("parsing port %q: %w", p, err)
		}
	}

	factory, err := encryption.NewPortAwareFactory(cfg.Encryption, cfg.Listeners)
	if err != nil {
		return fmt.Errorf("creating encryption factory: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", *addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", *addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(*wait)); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}

	usage := encryption.HackCheckInactive
	if *hackCheck {
		usage = encryption.HackCheckActive
	}
	client, err := server.NewClient(ctx, conn, *port, factory, usage, logger)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	fmt.Printf("Connected to %s (schemes of port %d, hack-check %s)\n", *addr, *port, usage)

	for _, p := range samplePackets() {
		fmt.Printf("-> %s\n", protocol.Preview(p))
		if err := client.Send(p); err != nil {
			return err
		}
	}

	for {
		p, err := client.Next()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				fmt.Println("Server closed the connection")
				return nil
			case errors.As(err, &netErr) && netErr.Timeout():
				fmt.Println("No more replies")
				return nil
			default:
				return fmt.Errorf("reading reply: %w", err)
			}
		}
		fmt.Printf("<- %s (%d bytes)\n", protocol.Preview(p), len(p))
	}
}

// samplePackets returns a connect server list request and a login request.
func samplePackets() [][]byte {
	login := make([]byte, constants.MinimumLoginLength-constants.ShortHeaderSize)
	login[0] = constants.LoginCode
	login[1] = constants.LoginSubCode

	serverList, _ := protocol.NewPacket(constants.HeaderC1, constants.ConnectServerCode, 0x06)
	loginReq, _ := protocol.NewPacket(constants.HeaderC3, login...)
	return [][]byte{serverList, loginReq}
}
