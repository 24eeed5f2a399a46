package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/udisondev/mugate/internal/constants"
)

// Framer carves complete packets out of a byte stream.
// It is a one-pass consumer: bytes read past a packet boundary stay buffered
// for the following Next call.
type Framer struct {
	r *bufio.Reader
}

// NewFramer creates a Framer reading from r.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, constants.DefaultReadBufSize)}
}

// Next returns the next complete packet.
// Returns io.EOF when the stream ends on a packet boundary,
// *TruncatedStreamError when it ends inside a packet and
// *FramingError when the header cannot be parsed.
func (f *Framer) Next() ([]byte, error) {
	first, err := f.r.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading packet header: %w", err)
	}

	hs := HeaderSize(first[0])
	if hs == 0 {
		return nil, &FramingError{Header: first[0]}
	}

	header, err := f.r.Peek(hs)
	if err != nil {
		return nil, truncated(err, len(header), hs)
	}

	length, _ := PacketLength(header)
	if length < hs {
		return nil, &FramingError{Header: header[0], Length: length}
	}

	packet := make([]byte, length)
	n, err := io.ReadFull(f.r, packet)
	if err != nil {
		return nil, truncated(err, n, length)
	}
	return packet, nil
}

// Buffered returns the number of bytes read from the source but not yet returned.
func (f *Framer) Buffered() int {
	return f.r.Buffered()
}

func truncated(err error, buffered, expected int) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TruncatedStreamError{Buffered: buffered, Expected: expected}
	}
	return fmt.Errorf("reading packet: %w", err)
}
