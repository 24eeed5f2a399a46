package constants

// MU Online Protocol Constants
//
// Every packet on the wire starts with a type byte followed by a length field.
// The length field always holds the total packet size, header included.

// Packet Header Types
const (
	// HeaderC1 is the short, unencrypted-by-SimpleModulus header (1-byte length)
	HeaderC1 = 0xC1

	// HeaderC2 is the long header (2-byte big-endian length)
	HeaderC2 = 0xC2

	// HeaderC3 is the short header used by packets carrying an encrypted body
	HeaderC3 = 0xC3

	// HeaderC4 is the long header used by packets carrying an encrypted body
	HeaderC4 = 0xC4
)

// Packet Structure Constants
const (
	// ShortHeaderSize is the header size of C1/C3 packets: [type][length]
	ShortHeaderSize = 2

	// LongHeaderSize is the header size of C2/C4 packets: [type][length hi][length lo]
	LongHeaderSize = 3

	// MaxPacketSize is the largest length a long header can declare
	MaxPacketSize = 0xFFFF
)

// HackCheck Detection Constants
//
// Un-obfuscated length fields look like small sane integers, obfuscated ones
// statistically do not. A first packet whose declared length falls inside
// [min, MaxPlausiblePacketLength] is taken as plain traffic.
const (
	// MinPlausibleShortLength is the smallest believable C1/C3 packet (header + code)
	MinPlausibleShortLength = 3

	// MinPlausibleLongLength is the smallest believable C2/C4 packet (header + code)
	MinPlausibleLongLength = 4

	// MaxPlausiblePacketLength is the detection ceiling (0x2000)
	MaxPlausiblePacketLength = 0x2000
)

// Xor32 Constants
const (
	// Xor32KeySize is the size of both Xor32 candidate keys
	Xor32KeySize = 32

	// MinimumLoginLength is the minimum size of a C3/C4 F1 01 login packet
	MinimumLoginLength = 48
)

// Signature codes used to recognise a correctly decrypted first packet.
const (
	// LoginCode / LoginSubCode identify the game server login request (F1 01)
	LoginCode    = 0xF1
	LoginSubCode = 0x01

	// ConnectServerCode is the connect server request group (F4 xx)
	ConnectServerCode = 0xF4
)

// ConnectServerSubCodes lists the F4 sub codes a connect server client sends first:
// 0x02 server list (old), 0x03 server info, 0x06 server list.
var ConnectServerSubCodes = [...]byte{0x02, 0x03, 0x06}

// DefaultXor32Key is the key shipped with the stock client.
var DefaultXor32Key = [Xor32KeySize]byte{
	0xAB, 0x11, 0xCD, 0xFE, 0x18, 0x23, 0xC5, 0xA3,
	0xCA, 0x33, 0xC1, 0xCC, 0x66, 0x67, 0x21, 0xF3,
	0x32, 0x12, 0x15, 0x35, 0x29, 0xFF, 0xFE, 0x1D,
	0x44, 0xEF, 0xCD, 0x41, 0x26, 0x3C, 0x4E, 0x4D,
}

// DefaultFallbackXor32Key is the key used by repacked clients seen in the wild.
var DefaultFallbackXor32Key = [Xor32KeySize]byte{
	0xE7, 0x6D, 0x3A, 0x89, 0xBC, 0xB2, 0x9F, 0x73,
	0x23, 0xA8, 0xFE, 0xB6, 0x49, 0x5D, 0x39, 0x5D,
	0x8A, 0xCB, 0x63, 0x8D, 0xEA, 0x7D, 0x2B, 0x5F,
	0xC3, 0xB1, 0xE9, 0x83, 0x29, 0x51, 0xE8, 0x56,
}

// Hello Packet
//
// The connect server greets every new client with C1 04 00 01.
var HelloPacket = [...]byte{HeaderC1, 0x04, 0x00, 0x01}

// Buffer Size Constants
const (
	// DefaultReadBufSize is the read chunk size of pipeline stages
	DefaultReadBufSize = 4096

	// InitialPendingSize is the initial capacity of the hack-check pending buffer
	InitialPendingSize = 64

	// PreviewBytes is the number of packet bytes rendered in log previews
	PreviewBytes = 16
)
