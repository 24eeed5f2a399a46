package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/udisondev/mugate/internal/crypto"
	"github.com/udisondev/mugate/internal/protocol"
)

// Xor32Encryptor is the client-side counterpart of Xor32Decryptor: it frames
// outbound bytes and encrypts every packet with one fixed key.
type Xor32Encryptor struct {
	dst    io.WriteCloser
	pr     *io.PipeReader
	pw     *io.PipeWriter
	key    crypto.Xor32Key
	logger *slog.Logger
}

// NewXor32Encryptor creates the stage. Run must be called to pump Writer into dst.
func NewXor32Encryptor(dst io.WriteCloser, key crypto.Xor32Key, logger *slog.Logger) *Xor32Encryptor {
	pr, pw := io.Pipe()
	return &Xor32Encryptor{
		dst:    dst,
		pr:     pr,
		pw:     pw,
		key:    key,
		logger: loggerOrDefault(logger),
	}
}

// Writer accepts plain packets. A packet may be split over several writes.
func (e *Xor32Encryptor) Writer() io.WriteCloser {
	return e.pw
}

// Run encrypts packets until the producer closes Writer or an error occurs.
func (e *Xor32Encryptor) Run(ctx context.Context) error {
	stop := cancelOnDone(ctx, e.pr)
	defer stop()

	err := canceled(ctx, e.pump())

	if cerr := e.dst.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing target: %w", cerr)
	}
	e.pr.CloseWithError(err)
	return err
}

func (e *Xor32Encryptor) pump() error {
	framer := protocol.NewFramer(e.pr)
	for {
		packet, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := crypto.Xor32Encrypt(packet, &e.key); err != nil {
			return err
		}
		if _, err := e.dst.Write(packet); err != nil {
			return fmt.Errorf("writing to target: %w", err)
		}
		e.logger.Debug("xor32 packet encrypted", "len", len(packet))
	}
}
