package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/udisondev/mugate/internal/constants"
	"github.com/udisondev/mugate/internal/crypto"
	"github.com/udisondev/mugate/internal/protocol"
)

type detectPhase int

const (
	phaseBuffering detectPhase = iota // decision unknown, bytes go to pending
	phaseResolved                     // every chunk is transformed and emitted at once
)

// HackCheckDecryptor detects from the first inbound bytes whether the client
// uses the hack-check obfuscation and reverses it for the rest of the stream.
//
// Until the decision exists, bytes are kept in a pending buffer. Once the
// decision is reached the whole buffer is replayed under it, so no byte is
// ever emitted under a wrong assumption.
type HackCheckDecryptor struct {
	src      io.Reader
	pr       *io.PipeReader
	pw       *io.PipeWriter
	stream   *crypto.HackCheckStream
	decision *Decision
	logger   *slog.Logger

	phase   detectPhase
	usage   HackCheckUsage
	pending []byte
}

// NewHackCheckDecryptor creates the stage. Run must be called to pump src.
func NewHackCheckDecryptor(src io.Reader, keys *crypto.HackCheckKeys, decision *Decision, logger *slog.Logger) *HackCheckDecryptor {
	pr, pw := io.Pipe()
	return &HackCheckDecryptor{
		src:      src,
		pr:       pr,
		pw:       pw,
		stream:   keys.NewDecryptStream(),
		decision: decision,
		logger:   loggerOrDefault(logger),
		pending:  make([]byte, 0, constants.InitialPendingSize),
	}
}

// Reader returns the decrypted stream.
func (d *HackCheckDecryptor) Reader() io.Reader {
	return d.pr
}

// Run pumps the source until it ends, fails or ctx is done.
// Whatever happens, the decision is resolved before Run returns.
func (d *HackCheckDecryptor) Run(ctx context.Context) error {
	stop := cancelOnDone(ctx, d.src)
	defer stop()

	err := canceled(ctx, d.pump())
	err = d.finish(err)

	d.pw.CloseWithError(err)
	releaseSource(d.src, err)
	return err
}

func (d *HackCheckDecryptor) pump() error {
	buf := make([]byte, constants.DefaultReadBufSize)
	for {
		n, rerr := d.src.Read(buf)
		if n > 0 {
			if err := d.process(buf[:n]); err != nil {
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading source: %w", rerr)
		}
	}
}

func (d *HackCheckDecryptor) process(chunk []byte) error {
	if d.phase == phaseResolved {
		return d.emit(chunk)
	}

	d.pending = append(d.pending, chunk...)

	usage, ok := d.decision.TryGet()
	if !ok {
		usage, ok = DetectHackCheck(d.pending)
		if !ok {
			return nil
		}
		if d.decision.SetIfUnknown(usage) {
			d.logger.Debug("hack-check detected",
				"usage", usage,
				"head", protocol.Preview(d.pending))
		}
	}

	return d.resolve(usage)
}

// resolve switches to phaseResolved and replays the pending buffer under usage.
func (d *HackCheckDecryptor) resolve(usage HackCheckUsage) error {
	d.phase = phaseResolved
	d.usage = usage

	pending := d.pending
	d.pending = nil
	return d.emit(pending)
}

func (d *HackCheckDecryptor) emit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if d.usage == HackCheckActive {
		d.stream.Transform(b)
	}
	if _, err := d.pw.Write(b); err != nil {
		return fmt.Errorf("writing downstream: %w", err)
	}
	return nil
}

// finish forces an undecided connection to inactive and flushes what is pending.
// This also releases an encryptor waiting on the same decision.
func (d *HackCheckDecryptor) finish(err error) error {
	if d.phase == phaseResolved {
		return err
	}

	usage := HackCheckInactive
	if !d.decision.SetIfUnknown(HackCheckInactive) {
		usage, _ = d.decision.TryGet()
	} else {
		d.logger.Debug("hack-check undecided at end of stream, assuming inactive",
			"pending", len(d.pending))
	}

	if ferr := d.resolve(usage); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

// Usage returns the decision this stage applied. HackCheckUnknown until resolved.
// Only valid after Run returned.
func (d *HackCheckDecryptor) Usage() HackCheckUsage {
	return d.usage
}

// DetectHackCheck inspects the first buffered bytes of a connection.
// ok is false while there are not enough bytes to decide.
//
// A recognized header whose declared length looks sane means plain traffic;
// anything else means the stream is obfuscated.
func DetectHackCheck(head []byte) (usage HackCheckUsage, ok bool) {
	if len(head) < constants.ShortHeaderSize {
		return HackCheckUnknown, false
	}

	var minLength int
	switch head[0] {
	case constants.HeaderC1, constants.HeaderC3:
		minLength = constants.MinPlausibleShortLength
	case constants.HeaderC2, constants.HeaderC4:
		if len(head) < constants.LongHeaderSize {
			return HackCheckUnknown, false
		}
		minLength = constants.MinPlausibleLongLength
	default:
		return HackCheckActive, true
	}

	length, _ := protocol.PacketLength(head)
	if length >= minLength && length <= constants.MaxPlausiblePacketLength {
		return HackCheckInactive, true
	}
	return HackCheckActive, true
}
