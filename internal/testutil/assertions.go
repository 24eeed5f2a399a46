package testutil

import (
	"testing"

	"github.com/udisondev/mugate/internal/protocol"
)

// AssertPacketHeader проверяет тип заголовка и поле длины пакета.
func AssertPacketHeader(t testing.TB, header byte, packet []byte) {
	t.Helper()

	if len(packet) == 0 {
		t.Fatalf("packet is empty, expected header 0x%02X", header)
	}
	if packet[0] != header {
		t.Fatalf("packet header mismatch: expected 0x%02X, got 0x%02X", header, packet[0])
	}

	length, ok := protocol.PacketLength(packet)
	if !ok {
		t.Fatalf("packet header incomplete: %s", protocol.Preview(packet))
	}
	if length != len(packet) {
		t.Fatalf("packet length field %d does not match size %d", length, len(packet))
	}
}

// AssertPacketCode проверяет код пакета (первый байт после заголовка).
func AssertPacketCode(t testing.TB, code byte, packet []byte) {
	t.Helper()

	hs := protocol.HeaderSize(packet[0])
	if hs == 0 || len(packet) <= hs {
		t.Fatalf("packet has no code: %s", protocol.Preview(packet))
	}
	if packet[hs] != code {
		t.Fatalf("packet code mismatch: expected 0x%02X, got 0x%02X", code, packet[hs])
	}
}
