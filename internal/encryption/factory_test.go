package encryption

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/mugate/internal/config"
	"github.com/udisondev/mugate/internal/constants"
)

const (
	connectPort = 44405
	gamePort    = 55901
	otherPort   = 12345
)

func testFactory(t *testing.T) *PortAwareFactory {
	t.Helper()
	cfg := config.DefaultGameServer()
	cfg.Encryption.HackCheckKey = hex.EncodeToString([]byte(testKeyMaterial))
	f, err := NewPortAwareFactory(cfg.Encryption, cfg.Listeners)
	require.NoError(t, err)
	return f
}

func TestPortAwareFactory_StageLayout(t *testing.T) {
	f := testFactory(t)
	decision := NewDecision()

	dec, err := f.CreateDecryptor(bytes.NewReader(nil), ClientToServer, Endpoint{Port: gamePort, Decision: decision})
	require.NoError(t, err)
	chain, ok := dec.(DecryptorChain)
	require.True(t, ok, "two schemes build a chain")
	require.Len(t, chain, 2)
	assert.IsType(t, &HackCheckDecryptor{}, chain[0])
	assert.IsType(t, &Xor32Decryptor{}, chain[1])

	enc, err := f.CreateEncryptor(newCollector(), ClientToServer, Endpoint{Port: gamePort, Decision: decision})
	require.NoError(t, err)
	encChain, ok := enc.(EncryptorChain)
	require.True(t, ok)
	require.Len(t, encChain, 2)
	// The producer feeds the innermost layer first.
	assert.IsType(t, &Xor32Encryptor{}, encChain[0])
	assert.IsType(t, &HackCheckEncryptor{}, encChain[1])

	single, err := f.CreateDecryptor(bytes.NewReader(nil), ClientToServer, Endpoint{Port: connectPort, Decision: decision})
	require.NoError(t, err)
	assert.IsType(t, &HackCheckDecryptor{}, single)
}

func TestPortAwareFactory_UnconfiguredPortUsesDefault(t *testing.T) {
	f := testFactory(t)

	for _, dir := range []Direction{ClientToServer, ServerToClient} {
		dec, err := f.CreateDecryptor(bytes.NewReader(nil), dir, Endpoint{Port: otherPort})
		require.NoError(t, err)
		assert.Nil(t, dec, dir.String())

		enc, err := f.CreateEncryptor(newCollector(), dir, Endpoint{Port: otherPort})
		require.NoError(t, err)
		assert.Nil(t, enc, dir.String())
	}
}

func TestPortAwareFactory_DefaultListenerSchemes(t *testing.T) {
	cfg := config.DefaultGameServer()
	cfg.Encryption.Default.ClientToServer = []string{config.SchemeXor32}
	f, err := NewPortAwareFactory(cfg.Encryption, nil)
	require.NoError(t, err)

	dec, err := f.CreateDecryptor(bytes.NewReader(nil), ClientToServer, Endpoint{Port: otherPort})
	require.NoError(t, err)
	assert.IsType(t, &Xor32Decryptor{}, dec)

	enc, err := f.CreateEncryptor(newCollector(), ServerToClient, Endpoint{Port: otherPort})
	require.NoError(t, err)
	assert.Nil(t, enc)
}

func TestPortAwareFactory_Errors(t *testing.T) {
	cfg := config.DefaultGameServer()
	listeners := []config.Listener{
		{Name: "odd", Port: otherPort, ClientToServer: []string{"rot13"}, ServerToClient: []string{"rot13"}},
	}
	f, err := NewPortAwareFactory(cfg.Encryption, append(cfg.Listeners, listeners...))
	require.NoError(t, err)

	t.Run("hackcheck without decision", func(t *testing.T) {
		_, err := f.CreateDecryptor(bytes.NewReader(nil), ClientToServer, Endpoint{Port: gamePort})
		assert.ErrorContains(t, err, "no decision")

		_, err = f.CreateEncryptor(newCollector(), ServerToClient, Endpoint{Port: gamePort})
		assert.ErrorContains(t, err, "no decision")
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := f.CreateDecryptor(bytes.NewReader(nil), ClientToServer, Endpoint{Port: otherPort})
		assert.ErrorContains(t, err, `"rot13"`)

		_, err = f.CreateEncryptor(newCollector(), ServerToClient, Endpoint{Port: otherPort})
		assert.ErrorContains(t, err, `"rot13"`)
	})

	t.Run("bad keys", func(t *testing.T) {
		enc := cfg.Encryption
		enc.Xor32PrimaryKey = "abcd"
		_, err := NewPortAwareFactory(enc, cfg.Listeners)
		assert.ErrorContains(t, err, "xor32")

		enc = cfg.Encryption
		enc.HackCheckKey = "zz"
		_, err = NewPortAwareFactory(enc, cfg.Listeners)
		assert.ErrorContains(t, err, "hackcheck")
	})
}

// The client side of a game connection is built from the same factory: its
// encryptor for client->server must be undone by the server decryptor.
func TestPortAwareFactory_ClientToServerRoundTrip(t *testing.T) {
	f := testFactory(t)
	ctx := context.Background()

	wireR, wireW := io.Pipe()
	client, err := f.CreateEncryptor(wireW, ClientToServer,
		Endpoint{ID: "client", Port: gamePort, Decision: NewResolvedDecision(HackCheckActive)})
	require.NoError(t, err)

	serverDecision := NewDecision()
	server, err := f.CreateDecryptor(wireR, ClientToServer,
		Endpoint{ID: "server", Port: gamePort, Decision: serverDecision})
	require.NoError(t, err)

	clientDone := runStage(ctx, client.Run)
	serverDone := runStage(ctx, server.Run)

	plain := bytes.Join([][]byte{
		mustPacket(t, 0xC1, constants.ConnectServerCode, 0x06),
		loginPacket(t),
		mustPacket(t, 0xC2, bytes.Repeat([]byte{0x10}, 600)...),
	}, nil)

	go func() {
		w := client.Writer()
		for _, chunk := range [][]byte{plain[:3], plain[3:60], plain[60:]} {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
		w.Close()
	}()

	got, err := readAll(t, server.Reader())
	require.NoError(t, err)
	if diff := cmp.Diff(plain, got); diff != "" {
		t.Fatalf("server read mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, waitStage(t, clientDone))
	require.NoError(t, waitStage(t, serverDone))

	usage, ok := serverDecision.TryGet()
	require.True(t, ok)
	assert.Equal(t, HackCheckActive, usage)

	sel, ok := KeySelectionOf(server)
	require.True(t, ok)
	assert.Equal(t, KeyPrimary, sel)
}

func TestPortAwareFactory_ServerToClientFollowsDecision(t *testing.T) {
	f := testFactory(t)
	ctx := context.Background()
	decision := NewResolvedDecision(HackCheckActive)

	wireR, wireW := io.Pipe()
	server, err := f.CreateEncryptor(wireW, ServerToClient, Endpoint{Port: connectPort, Decision: decision})
	require.NoError(t, err)

	clientDecision := NewDecision()
	client, err := f.CreateDecryptor(wireR, ServerToClient, Endpoint{Port: connectPort, Decision: clientDecision})
	require.NoError(t, err)

	serverDone := runStage(ctx, server.Run)
	clientDone := runStage(ctx, client.Run)

	hello := constants.HelloPacket[:]
	go func() {
		_, _ = server.Writer().Write(hello)
		server.Writer().Close()
	}()

	got, err := readAll(t, client.Reader())
	require.NoError(t, err)
	assert.Equal(t, hello, got)

	require.NoError(t, waitStage(t, serverDone))
	require.NoError(t, waitStage(t, clientDone))

	usage, _ := clientDecision.TryGet()
	assert.Equal(t, HackCheckActive, usage)
}

func TestKeySelectionOf(t *testing.T) {
	hc := NewHackCheckDecryptor(bytes.NewReader(nil), testKeys(t), NewDecision(), nil)
	_, ok := KeySelectionOf(hc)
	assert.False(t, ok)

	xor := NewXor32Decryptor(bytes.NewReader(nil), primaryKey, fallbackKey, nil)
	xor.selected.Store(int32(KeyFallback))

	sel, ok := KeySelectionOf(DecryptorChain{hc, xor})
	require.True(t, ok)
	assert.Equal(t, KeyFallback, sel)
}
