package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/udisondev/mugate/internal/constants"
)

// HeaderSize returns the header size selected by the packet type byte.
// Returns 0 for an unknown type.
func HeaderSize(header byte) int {
	switch header {
	case constants.HeaderC1, constants.HeaderC3:
		return constants.ShortHeaderSize
	case constants.HeaderC2, constants.HeaderC4:
		return constants.LongHeaderSize
	default:
		return 0
	}
}

// PacketLength returns the total length declared by the header at the start of p.
// ok is false if the type byte is unknown or p is shorter than the header.
func PacketLength(p []byte) (length int, ok bool) {
	if len(p) == 0 {
		return 0, false
	}
	hs := HeaderSize(p[0])
	if hs == 0 || len(p) < hs {
		return 0, false
	}
	if hs == constants.ShortHeaderSize {
		return int(p[1]), true
	}
	return int(binary.BigEndian.Uint16(p[1:3])), true
}

// IsShortHeader reports whether header is C1 or C3.
func IsShortHeader(header byte) bool {
	return HeaderSize(header) == constants.ShortHeaderSize
}

// NewPacket builds a packet of the given type around body.
// body starts with the packet code. The length field is filled in.
func NewPacket(header byte, body ...byte) ([]byte, error) {
	hs := HeaderSize(header)
	if hs == 0 {
		return nil, &FramingError{Header: header}
	}

	total := hs + len(body)
	if hs == constants.ShortHeaderSize && total > 0xFF {
		return nil, fmt.Errorf("new packet: %d bytes do not fit a short header", total)
	}
	if total > constants.MaxPacketSize {
		return nil, fmt.Errorf("new packet: %d bytes exceed max packet size", total)
	}

	p := make([]byte, total)
	p[0] = header
	if hs == constants.ShortHeaderSize {
		p[1] = byte(total)
	} else {
		binary.BigEndian.PutUint16(p[1:3], uint16(total))
	}
	copy(p[hs:], body)
	return p, nil
}

// Preview renders the first bytes of a packet as hex for log attributes.
func Preview(p []byte) string {
	n := min(len(p), constants.PreviewBytes)
	if n == 0 {
		return "n/a"
	}
	return hex.EncodeToString(p[:n])
}
