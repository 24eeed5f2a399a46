package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Direction is the direction of the data flow on the wire.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "C->S"
	case ServerToClient:
		return "S->C"
	default:
		return "UNKNOWN"
	}
}

// Decryptor is a pipeline stage that reverses obfuscation of an inbound stream.
// Run pumps the source until it ends; Reader yields the plain bytes.
type Decryptor interface {
	Reader() io.Reader
	Run(ctx context.Context) error
}

// Encryptor is a pipeline stage that obfuscates an outbound stream.
// Bytes written to Writer are transformed by Run and written to the target.
// Closing Writer ends Run and closes the target.
type Encryptor interface {
	Writer() io.WriteCloser
	Run(ctx context.Context) error
}

// pipeSource is implemented by *io.PipeReader: the output of another stage.
type pipeSource interface {
	CloseWithError(err error) error
}

// cancelOnDone unblocks a pending Read on src when ctx is done.
// Only pipe sources can be unblocked this way; transport sources are closed by
// the connection owner.
func cancelOnDone(ctx context.Context, src io.Reader) (stop func() bool) {
	ps, ok := src.(pipeSource)
	if !ok {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		_ = ps.CloseWithError(context.Cause(ctx))
	})
}

// canceled replaces the closed-pipe error provoked by cancelOnDone with the
// cause of ctx, so a canceled stage reports the cancellation.
func canceled(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return fmt.Errorf("stage stopped: %w", context.Cause(ctx))
}

// releaseSource tells the stage feeding src that nobody reads anymore.
func releaseSource(src io.Reader, err error) {
	if ps, ok := src.(pipeSource); ok {
		_ = ps.CloseWithError(err)
	}
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
