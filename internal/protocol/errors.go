package protocol

import "fmt"

// FramingError means the byte stream lost packet synchronisation.
// The connection cannot recover from it.
type FramingError struct {
	Header byte
	Length int // declared length, 0 if the header byte itself is unknown
}

func (e *FramingError) Error() string {
	if e.Length == 0 && HeaderSize(e.Header) == 0 {
		return fmt.Sprintf("framing: unknown packet header 0x%02X", e.Header)
	}
	return fmt.Sprintf("framing: header 0x%02X declares impossible length %d", e.Header, e.Length)
}

// TruncatedStreamError means the stream ended in the middle of a packet.
// It closes the connection but is not a protocol violation.
type TruncatedStreamError struct {
	Buffered int
	Expected int
}

func (e *TruncatedStreamError) Error() string {
	return fmt.Sprintf("stream truncated: %d of %d packet bytes received", e.Buffered, e.Expected)
}
