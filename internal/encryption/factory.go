package encryption

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/udisondev/mugate/internal/config"
	"github.com/udisondev/mugate/internal/crypto"
)

// Endpoint describes the connection a stage is created for.
// Decision is shared by both directions of the connection.
type Endpoint struct {
	ID       string
	Port     int
	Decision *Decision
	Logger   *slog.Logger
}

// Factory creates the encryption stages of a connection.
// A nil stage without error means the direction is not transformed.
type Factory interface {
	CreateDecryptor(src io.Reader, dir Direction, ep Endpoint) (Decryptor, error)
	CreateEncryptor(dst io.WriteCloser, dir Direction, ep Endpoint) (Encryptor, error)
}

// portSchemes lists the schemes of one port, outermost layer first.
type portSchemes struct {
	clientToServer []string
	serverToClient []string
}

func (p portSchemes) forDirection(dir Direction) []string {
	var list []string
	if dir == ClientToServer {
		list = p.clientToServer
	} else {
		list = p.serverToClient
	}
	return slices.DeleteFunc(slices.Clone(list), func(s string) bool {
		return s == config.SchemeNone || s == ""
	})
}

// PortAwareFactory picks the encryption families by local port and direction.
type PortAwareFactory struct {
	ports    map[int]portSchemes
	fallback portSchemes

	hackCheck     *crypto.HackCheckKeys
	xor32Primary  crypto.Xor32Key
	xor32Fallback crypto.Xor32Key
}

// NewPortAwareFactory builds a factory from the encryption config and listeners.
func NewPortAwareFactory(enc config.Encryption, listeners []config.Listener) (*PortAwareFactory, error) {
	xorKeys, err := enc.Xor32Keys()
	if err != nil {
		return nil, fmt.Errorf("loading xor32 keys: %w", err)
	}
	hackCheck, err := enc.HackCheckKeys()
	if err != nil {
		return nil, fmt.Errorf("loading hackcheck keys: %w", err)
	}

	f := &PortAwareFactory{
		ports: make(map[int]portSchemes, len(listeners)),
		fallback: portSchemes{
			clientToServer: enc.Default.ClientToServer,
			serverToClient: enc.Default.ServerToClient,
		},
		hackCheck:     hackCheck,
		xor32Primary:  xorKeys[0],
		xor32Fallback: xorKeys[1],
	}
	for _, l := range listeners {
		f.ports[l.Port] = portSchemes{
			clientToServer: l.ClientToServer,
			serverToClient: l.ServerToClient,
		}
	}
	return f, nil
}

func (f *PortAwareFactory) schemes(port int, dir Direction) []string {
	ps, ok := f.ports[port]
	if !ok {
		ps = f.fallback
	}
	return ps.forDirection(dir)
}

// CreateDecryptor layers decryptors from the outermost scheme inwards.
func (f *PortAwareFactory) CreateDecryptor(src io.Reader, dir Direction, ep Endpoint) (Decryptor, error) {
	schemes := f.schemes(ep.Port, dir)
	if len(schemes) == 0 {
		return nil, nil
	}

	logger := loggerOrDefault(ep.Logger).With("dir", dir)
	chain := make(DecryptorChain, 0, len(schemes))
	for _, s := range schemes {
		var stage Decryptor
		switch s {
		case config.SchemeHackCheck:
			if ep.Decision == nil {
				return nil, fmt.Errorf("hackcheck decryptor on port %d: endpoint has no decision", ep.Port)
			}
			stage = NewHackCheckDecryptor(src, f.hackCheck, ep.Decision, logger)
		case config.SchemeXor32:
			stage = NewXor32Decryptor(src, f.xor32Primary, f.xor32Fallback, logger)
		default:
			return nil, fmt.Errorf("unknown encryption scheme %q on port %d", s, ep.Port)
		}
		chain = append(chain, stage)
		src = stage.Reader()
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

// CreateEncryptor layers encryptors so that the outermost scheme is applied last.
// Xor32 encryption always uses the primary key.
func (f *PortAwareFactory) CreateEncryptor(dst io.WriteCloser, dir Direction, ep Endpoint) (Encryptor, error) {
	schemes := f.schemes(ep.Port, dir)
	if len(schemes) == 0 {
		return nil, nil
	}

	logger := loggerOrDefault(ep.Logger).With("dir", dir)
	// Build from the wire inwards, then reverse so the producer feeds the innermost layer.
	chain := make(EncryptorChain, 0, len(schemes))
	for _, s := range schemes {
		var stage Encryptor
		switch s {
		case config.SchemeHackCheck:
			if ep.Decision == nil {
				return nil, fmt.Errorf("hackcheck encryptor on port %d: endpoint has no decision", ep.Port)
			}
			stage = NewHackCheckEncryptor(dst, f.hackCheck, ep.Decision, logger)
		case config.SchemeXor32:
			stage = NewXor32Encryptor(dst, f.xor32Primary, logger)
		default:
			return nil, fmt.Errorf("unknown encryption scheme %q on port %d", s, ep.Port)
		}
		chain = append(chain, stage)
		dst = stage.Writer()
	}
	slices.Reverse(chain)

	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}
