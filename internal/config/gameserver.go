package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/udisondev/mugate/internal/constants"
	"github.com/udisondev/mugate/internal/crypto"
)

// Listener describes one listening port and the encryption schemes used on it.
// Scheme lists are ordered from the outermost layer on the wire inwards:
// [hackcheck, xor32] means the stream is hack-check obfuscated and the packets
// inside are Xor32 encrypted.
type Listener struct {
	Name           string   `yaml:"name"`
	Port           int      `yaml:"port"`
	ClientToServer []string `yaml:"client_to_server"`
	ServerToClient []string `yaml:"server_to_client"`
}

// Encryption holds the key material of both obfuscation families.
type Encryption struct {
	// Xor32 candidate keys, hex encoded, 32 bytes each
	Xor32PrimaryKey  string `yaml:"xor32_primary_key"`
	Xor32FallbackKey string `yaml:"xor32_fallback_key"`

	// Hack-check key material: hex key bytes, or a passphrase expanded with HKDF
	HackCheckKey        string `yaml:"hackcheck_key"`
	HackCheckPassphrase string `yaml:"hackcheck_passphrase"`

	// Schemes for ports that have no listener entry
	Default Listener `yaml:"default"`
}

// GameServer holds all configuration for the listener process.
type GameServer struct {
	// Network
	BindAddress string     `yaml:"bind_address"`
	Listeners   []Listener `yaml:"listeners"`

	// Encryption
	Encryption Encryption `yaml:"encryption"`

	// Timeouts
	WriteTimeout time.Duration `yaml:"write_timeout"` // per-write deadline (default: 5s)
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // idle client disconnect (default: 120s)

	// SendHello sends C1 04 00 01 right after accept
	SendHello bool `yaml:"send_hello"`

	// Echo sends every received packet back (for client testing)
	Echo bool `yaml:"echo"`

	LogLevel string `yaml:"log_level"`

	// Detection audit
	Database DatabaseConfig `yaml:"database"`
}

// DefaultGameServer returns GameServer config with sensible defaults:
// a connect server on 44405 and a game server on 55901.
func DefaultGameServer() GameServer {
	return GameServer{
		BindAddress: "0.0.0.0",
		Listeners: []Listener{
			{
				Name:           "connect",
				Port:           44405,
				ClientToServer: []string{SchemeHackCheck},
				ServerToClient: []string{SchemeHackCheck},
			},
			{
				Name:           "game",
				Port:           55901,
				ClientToServer: []string{SchemeHackCheck, SchemeXor32},
				ServerToClient: []string{SchemeHackCheck},
			},
		},
		Encryption: Encryption{
			Xor32PrimaryKey:     crypto.Xor32Key(constants.DefaultXor32Key).String(),
			Xor32FallbackKey:    crypto.Xor32Key(constants.DefaultFallbackXor32Key).String(),
			HackCheckPassphrase: "mugate",
			Default: Listener{
				Name:           "default",
				ClientToServer: []string{SchemeNone},
				ServerToClient: []string{SchemeNone},
			},
		},
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  120 * time.Second,
		SendHello:    true,
		LogLevel:     "info",
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "mugate",
			Password: "mugate",
			DBName:   "mugate",
			SSLMode:  "disable",
		},
	}
}

// LoadGameServer loads config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadGameServer(path string) (GameServer, error) {
	cfg := DefaultGameServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ports, scheme names and key material.
func (c GameServer) Validate() error {
	var errs []error

	seen := make(map[int]bool, len(c.Listeners))
	for _, l := range c.Listeners {
		if l.Port <= 0 || l.Port > 0xFFFF {
			errs = append(errs, fmt.Errorf("listener %q: invalid port %d", l.Name, l.Port))
		}
		if seen[l.Port] {
			errs = append(errs, fmt.Errorf("listener %q: duplicate port %d", l.Name, l.Port))
		}
		seen[l.Port] = true
		errs = append(errs, l.validate())
	}
	errs = append(errs, c.Encryption.Default.validate())

	if _, err := c.Encryption.Xor32Keys(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Encryption.HackCheckKeys(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (l Listener) validate() error {
	var errs []error
	for _, list := range [][]string{l.ClientToServer, l.ServerToClient} {
		for _, s := range list {
			switch s {
			case SchemeNone, SchemeHackCheck, SchemeXor32:
			default:
				errs = append(errs, fmt.Errorf("listener %q: unknown scheme %q", l.Name, s))
			}
		}
	}

	// The outbound hack-check decision is taken by the inbound decryptor.
	if slices.Contains(l.ServerToClient, SchemeHackCheck) && !slices.Contains(l.ClientToServer, SchemeHackCheck) {
		errs = append(errs, fmt.Errorf("listener %q: server_to_client hackcheck requires client_to_server hackcheck", l.Name))
	}
	return errors.Join(errs...)
}

// Xor32Keys parses the primary and fallback keys.
func (e Encryption) Xor32Keys() ([2]crypto.Xor32Key, error) {
	var keys [2]crypto.Xor32Key
	var err error
	if keys[0], err = crypto.ParseXor32Key(e.Xor32PrimaryKey); err != nil {
		return keys, fmt.Errorf("xor32_primary_key: %w", err)
	}
	if keys[1], err = crypto.ParseXor32Key(e.Xor32FallbackKey); err != nil {
		return keys, fmt.Errorf("xor32_fallback_key: %w", err)
	}
	return keys, nil
}

// HackCheckKeys builds the hack-check key material. hackcheck_key wins over
// hackcheck_passphrase when both are set.
func (e Encryption) HackCheckKeys() (*crypto.HackCheckKeys, error) {
	if e.HackCheckKey != "" {
		keys, err := crypto.ParseHackCheckKeys(e.HackCheckKey)
		if err != nil {
			return nil, fmt.Errorf("hackcheck_key: %w", err)
		}
		return keys, nil
	}

	keys, err := crypto.DeriveHackCheckKeys(e.HackCheckPassphrase)
	if err != nil {
		return nil, fmt.Errorf("hackcheck_passphrase: %w", err)
	}
	return keys, nil
}
