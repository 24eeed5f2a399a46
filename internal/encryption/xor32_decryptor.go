package encryption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/udisondev/mugate/internal/constants"
	"github.com/udisondev/mugate/internal/crypto"
	"github.com/udisondev/mugate/internal/protocol"
)

// KeySelection tells which of the two Xor32 keys a connection uses.
type KeySelection int32

const (
	KeyUndecided KeySelection = iota
	KeyPrimary
	KeyFallback
)

func (k KeySelection) String() string {
	switch k {
	case KeyPrimary:
		return "primary"
	case KeyFallback:
		return "fallback"
	default:
		return "undecided"
	}
}

// Xor32Decryptor decrypts Xor32 packets and picks the key from the first packet.
//
// The first testable packet is decrypted speculatively with both keys; the key
// that turns it into a known first packet (login or connect server request)
// wins. The choice is kept for the rest of the connection.
type Xor32Decryptor struct {
	src      io.Reader
	pr       *io.PipeReader
	pw       *io.PipeWriter
	primary  crypto.Xor32Key
	fallback crypto.Xor32Key
	logger   *slog.Logger

	selected atomic.Int32
}

// NewXor32Decryptor creates the stage. Run must be called to pump src.
func NewXor32Decryptor(src io.Reader, primary, fallback crypto.Xor32Key, logger *slog.Logger) *Xor32Decryptor {
	pr, pw := io.Pipe()
	return &Xor32Decryptor{
		src:      src,
		pr:       pr,
		pw:       pw,
		primary:  primary,
		fallback: fallback,
		logger:   loggerOrDefault(logger),
	}
}

// Reader returns the stream of decrypted packets.
func (d *Xor32Decryptor) Reader() io.Reader {
	return d.pr
}

// Selected returns the memoized key choice. ok is false before the first
// testable packet was seen.
func (d *Xor32Decryptor) Selected() (KeySelection, bool) {
	sel := KeySelection(d.selected.Load())
	return sel, sel != KeyUndecided
}

// Run frames the source and decrypts packet by packet until the source ends.
func (d *Xor32Decryptor) Run(ctx context.Context) error {
	stop := cancelOnDone(ctx, d.src)
	defer stop()

	err := canceled(ctx, d.pump())

	d.pw.CloseWithError(err)
	releaseSource(d.src, err)
	return err
}

func (d *Xor32Decryptor) pump() error {
	framer := protocol.NewFramer(d.src)
	for {
		packet, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := crypto.Xor32Decrypt(packet, d.key(packet)); err != nil {
			return err
		}
		if _, err := d.pw.Write(packet); err != nil {
			return fmt.Errorf("writing downstream: %w", err)
		}
	}
}

// key returns the key for packet, running detection if nothing is memoized yet.
func (d *Xor32Decryptor) key(packet []byte) *crypto.Xor32Key {
	sel, ok := d.Selected()
	if !ok {
		sel, ok = d.selectKey(packet)
		if ok {
			d.selected.Store(int32(sel))
		}
	}

	if sel == KeyFallback {
		return &d.fallback
	}
	return &d.primary
}

func (d *Xor32Decryptor) selectKey(packet []byte) (KeySelection, bool) {
	if len(packet) <= protocol.HeaderSize(packet[0]) {
		// Nothing but a header: can't be tested, try the next one.
		return KeyUndecided, false
	}

	primaryMatch := matchesFirstPacket(packet, &d.primary)
	fallbackMatch := matchesFirstPacket(packet, &d.fallback)

	switch {
	case primaryMatch && !fallbackMatch:
		d.logSelection("primary", packet)
		return KeyPrimary, true
	case fallbackMatch && !primaryMatch:
		d.logSelection("fallback", packet)
		return KeyFallback, true
	case primaryMatch && fallbackMatch:
		d.logSelection("primary (both matched)", packet)
		return KeyPrimary, true
	default:
		d.logSelection("primary (no match)", packet)
		return KeyPrimary, true
	}
}

func (d *Xor32Decryptor) logSelection(selection string, packet []byte) {
	d.logger.Info("selected xor32 key",
		"selection", selection,
		"head", protocol.Preview(packet[:min(len(packet), 8)]))
}

// matchesFirstPacket decrypts a private copy of packet with key and checks
// whether the result looks like a packet a client sends first.
func matchesFirstPacket(packet []byte, key *crypto.Xor32Key) bool {
	buf := bytes.Clone(packet)
	if err := crypto.Xor32Decrypt(buf, key); err != nil {
		return false
	}
	return IsFirstPacketSignature(buf)
}

// IsFirstPacketSignature reports whether a plain packet is a login request
// (C3/C4 F1 01, at least 48 bytes) or a connect server request (C1/C2 F4 02|03|06).
func IsFirstPacketSignature(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	hs := protocol.HeaderSize(p[0])
	if hs == 0 || len(p) <= hs {
		return false
	}

	code := p[hs]
	var subCode byte
	if hs+1 < len(p) {
		subCode = p[hs+1]
	}

	switch p[0] {
	case constants.HeaderC3, constants.HeaderC4:
		return code == constants.LoginCode && subCode == constants.LoginSubCode &&
			len(p) >= constants.MinimumLoginLength
	case constants.HeaderC1, constants.HeaderC2:
		return code == constants.ConnectServerCode &&
			slices.Contains(constants.ConnectServerSubCodes[:], subCode)
	default:
		return false
	}
}
