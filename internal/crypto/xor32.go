package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/udisondev/mugate/internal/constants"
	"github.com/udisondev/mugate/internal/protocol"
)

// Xor32Key is one of the two fixed keys of the Xor32 packet cipher.
type Xor32Key [constants.Xor32KeySize]byte

// NewXor32Key copies b into a key. b must be exactly 32 bytes long.
func NewXor32Key(b []byte) (Xor32Key, error) {
	var key Xor32Key
	if len(b) != constants.Xor32KeySize {
		return key, &TransformError{
			Op:     "xor32 key",
			Reason: fmt.Sprintf("key must have a size of %d bytes, but is %d bytes long", constants.Xor32KeySize, len(b)),
		}
	}
	copy(key[:], b)
	return key, nil
}

// ParseXor32Key parses a hex encoded key. Spaces and dashes are ignored,
// so "AB-11-CD..." and "ab 11 cd ..." are accepted.
func ParseXor32Key(s string) (Xor32Key, error) {
	s = strings.NewReplacer(" ", "", "-", "", ":", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return Xor32Key{}, fmt.Errorf("decoding xor32 key: %w", err)
	}
	return NewXor32Key(b)
}

// String returns the key as uppercase hex.
func (k Xor32Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// Xor32Decrypt decrypts a complete packet in-place.
//
// Algorithm:
//   - Header and the first body byte are left as they are.
//   - From the last byte down to headerSize+1: p[i] = c[i] ^ c[i-1] ^ key[i%32]
//
// Walking backwards keeps c[i-1] untouched when byte i is processed.
func Xor32Decrypt(packet []byte, key *Xor32Key) error {
	hs, err := xor32HeaderSize(packet, "xor32 decrypt")
	if err != nil {
		return err
	}

	for i := len(packet) - 1; i > hs; i-- {
		packet[i] = packet[i] ^ packet[i-1] ^ key[i%constants.Xor32KeySize]
	}
	return nil
}

// Xor32Encrypt encrypts a complete packet in-place. It is the inverse of Xor32Decrypt:
// c[i] = p[i] ^ c[i-1] ^ key[i%32], walking forward from headerSize+1.
func Xor32Encrypt(packet []byte, key *Xor32Key) error {
	hs, err := xor32HeaderSize(packet, "xor32 encrypt")
	if err != nil {
		return err
	}

	for i := hs + 1; i < len(packet); i++ {
		packet[i] = packet[i] ^ packet[i-1] ^ key[i%constants.Xor32KeySize]
	}
	return nil
}

func xor32HeaderSize(packet []byte, op string) (int, error) {
	if len(packet) == 0 {
		return 0, &TransformError{Op: op, Reason: "empty packet"}
	}
	hs := protocol.HeaderSize(packet[0])
	if hs == 0 {
		return 0, &TransformError{Op: op, Reason: fmt.Sprintf("unknown packet header 0x%02X", packet[0])}
	}
	return hs, nil
}
