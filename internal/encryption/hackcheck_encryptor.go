package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/udisondev/mugate/internal/constants"
	"github.com/udisondev/mugate/internal/crypto"
)

// HackCheckEncryptor obfuscates outbound bytes when the connection's Decision
// says the client uses hack-check. It does not decide anything itself: if the
// decision is still unknown when the first chunk arrives, it waits for the
// inbound decryptor of the same connection.
type HackCheckEncryptor struct {
	dst      io.WriteCloser
	pr       *io.PipeReader
	pw       *io.PipeWriter
	stream   *crypto.HackCheckStream
	decision *Decision
	logger   *slog.Logger
}

// NewHackCheckEncryptor creates the stage. Run must be called to pump Writer into dst.
func NewHackCheckEncryptor(dst io.WriteCloser, keys *crypto.HackCheckKeys, decision *Decision, logger *slog.Logger) *HackCheckEncryptor {
	pr, pw := io.Pipe()
	return &HackCheckEncryptor{
		dst:      dst,
		pr:       pr,
		pw:       pw,
		stream:   keys.NewEncryptStream(),
		decision: decision,
		logger:   loggerOrDefault(logger),
	}
}

// Writer accepts plain outbound bytes. Writes block until the chunk has been
// handed to the target (backpressure).
func (e *HackCheckEncryptor) Writer() io.WriteCloser {
	return e.pw
}

// Run pumps Writer into the target until the producer closes, the target
// fails or ctx is done. Both ends are closed on return.
func (e *HackCheckEncryptor) Run(ctx context.Context) error {
	stop := cancelOnDone(ctx, e.pr)
	defer stop()

	err := canceled(ctx, e.pump(ctx))

	if cerr := e.dst.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing target: %w", cerr)
	}
	e.pr.CloseWithError(err)
	return err
}

func (e *HackCheckEncryptor) pump(ctx context.Context) error {
	buf := make([]byte, constants.DefaultReadBufSize)
	for {
		n, rerr := e.pr.Read(buf)
		if n > 0 {
			usage, err := e.usage(ctx)
			if err != nil {
				return fmt.Errorf("waiting for hack-check decision: %w", err)
			}

			chunk := buf[:n]
			if usage == HackCheckActive {
				e.stream.Transform(chunk)
			}
			if _, err := e.dst.Write(chunk); err != nil {
				return fmt.Errorf("writing to target: %w", err)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading producer: %w", rerr)
		}
	}
}

// usage is the single suspension point of the encryptor.
func (e *HackCheckEncryptor) usage(ctx context.Context) (HackCheckUsage, error) {
	if usage, ok := e.decision.TryGet(); ok {
		return usage, nil
	}

	e.logger.Debug("outbound data waits for hack-check decision")
	return e.decision.Wait(ctx)
}
