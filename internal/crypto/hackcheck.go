package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinHackCheckKeySize is the shortest accepted hack-check key.
	MinHackCheckKeySize = 8

	// derivedHackCheckKeySize is the key length produced from a passphrase.
	derivedHackCheckKeySize = 32

	hackCheckSalt = "mugate/hackcheck/v1"
)

// HackCheckKeys is the key material of the hack-check obfuscation.
//
// Callers treat it as opaque: the only way to use it is through the streams
// returned by NewEncryptStream and NewDecryptStream.
type HackCheckKeys struct {
	key  []byte
	seed byte
}

// NewHackCheckKeys creates key material from raw key bytes.
func NewHackCheckKeys(key []byte) (*HackCheckKeys, error) {
	if len(key) < MinHackCheckKeySize {
		return nil, &TransformError{
			Op:     "hackcheck key",
			Reason: fmt.Sprintf("key must be at least %d bytes, got %d", MinHackCheckKeySize, len(key)),
		}
	}

	k := &HackCheckKeys{key: make([]byte, len(key))}
	copy(k.key, key)
	for _, b := range key {
		k.seed = k.seed*31 + b
	}
	return k, nil
}

// ParseHackCheckKeys parses hex encoded key bytes.
func ParseHackCheckKeys(s string) (*HackCheckKeys, error) {
	s = strings.NewReplacer(" ", "", "-", "", ":", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hackcheck key: %w", err)
	}
	return NewHackCheckKeys(b)
}

// DeriveHackCheckKeys expands a passphrase into key material with HKDF-SHA256.
func DeriveHackCheckKeys(passphrase string) (*HackCheckKeys, error) {
	if passphrase == "" {
		return nil, &TransformError{Op: "hackcheck key", Reason: "empty passphrase"}
	}

	r := hkdf.New(sha256.New, []byte(passphrase), []byte(hackCheckSalt), nil)
	key := make([]byte, derivedHackCheckKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving hackcheck key: %w", err)
	}
	return NewHackCheckKeys(key)
}

// NewEncryptStream returns the state for obfuscating one direction of a connection.
func (k *HackCheckKeys) NewEncryptStream() *HackCheckStream {
	return &HackCheckStream{keys: k, prev: k.seed}
}

// NewDecryptStream returns the state for reversing one direction of a connection.
func (k *HackCheckKeys) NewDecryptStream() *HackCheckStream {
	return &HackCheckStream{keys: k, prev: k.seed, decrypt: true}
}

// HackCheckStream is a rolling XOR over a whole byte stream.
//
// Algorithm:
//   - Encrypt: c[n] = p[n] ^ key[n % len(key)] ^ c[n-1]
//   - Decrypt: p[n] = c[n] ^ key[n % len(key)] ^ c[n-1]
//   - c[-1] is the key seed; n counts bytes since the stream was created.
//
// The state carries over between calls, so the result does not depend on how
// the stream was chunked. A stream is owned by one goroutine.
//
// Header bytes are transformed too: detection reads the first header and
// length, so a stream with a clear header could not be told from a plain one.
type HackCheckStream struct {
	keys    *HackCheckKeys
	pos     uint64
	prev    byte
	decrypt bool
}

// Transform encrypts or decrypts data in-place, continuing the stream.
func (s *HackCheckStream) Transform(data []byte) {
	key := s.keys.key
	n := uint64(len(key))

	if s.decrypt {
		for i := range data {
			encrypted := data[i]
			data[i] = encrypted ^ key[s.pos%n] ^ s.prev
			s.prev = encrypted
			s.pos++
		}
		return
	}

	for i := range data {
		s.prev = data[i] ^ key[s.pos%n] ^ s.prev
		data[i] = s.prev
		s.pos++
	}
}

// Position returns the number of bytes transformed so far.
func (s *HackCheckStream) Position() uint64 {
	return s.pos
}
