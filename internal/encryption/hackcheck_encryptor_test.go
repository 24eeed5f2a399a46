package encryption

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHackCheckEncryptor_WaitsForDecision(t *testing.T) {
	keys := testKeys(t)
	decision := NewDecision()
	dst := newCollector()
	enc := NewHackCheckEncryptor(dst, keys, decision, nil)
	done := runStage(context.Background(), enc.Run)

	plain := mustPacket(t, 0xC1, 0xF4, 0x06, 0x00)
	written := make(chan error, 1)
	go func() {
		_, err := enc.Writer().Write(plain)
		written <- err
	}()

	select {
	case <-dst.wrote:
		t.Fatal("encryptor wrote before the decision existed")
	case <-time.After(30 * time.Millisecond):
	}

	require.True(t, decision.SetIfUnknown(HackCheckActive))
	require.NoError(t, <-written)
	require.NoError(t, enc.Writer().Close())
	require.NoError(t, waitStage(t, done))

	want := bytes.Clone(plain)
	keys.NewEncryptStream().Transform(want)
	assert.Equal(t, want, dst.Bytes())
	assert.True(t, dst.Closed())
}

func TestHackCheckEncryptor_InactivePassesThrough(t *testing.T) {
	dst := newCollector()
	enc := NewHackCheckEncryptor(dst, testKeys(t), NewResolvedDecision(HackCheckInactive), nil)
	done := runStage(context.Background(), enc.Run)

	plain := mustPacket(t, 0xC2, 0x11, 0x22, 0x33)
	_, err := enc.Writer().Write(plain)
	require.NoError(t, err)
	require.NoError(t, enc.Writer().Close())
	require.NoError(t, waitStage(t, done))

	assert.Equal(t, plain, dst.Bytes())
	assert.True(t, dst.Closed())
}

func TestHackCheckEncryptor_StreamSpansWrites(t *testing.T) {
	keys := testKeys(t)
	dst := newCollector()
	enc := NewHackCheckEncryptor(dst, keys, NewResolvedDecision(HackCheckActive), nil)
	done := runStage(context.Background(), enc.Run)

	first := mustPacket(t, 0xC1, 0x01, 0x02)
	second := mustPacket(t, 0xC1, 0x03, 0x04, 0x05)
	for _, p := range [][]byte{first, second} {
		_, err := enc.Writer().Write(p)
		require.NoError(t, err)
	}
	require.NoError(t, enc.Writer().Close())
	require.NoError(t, waitStage(t, done))

	// The keystream position carries over between writes.
	want := append(bytes.Clone(first), second...)
	keys.NewEncryptStream().Transform(want)
	assert.Equal(t, want, dst.Bytes())
}

func TestHackCheckEncryptor_CancelReleasesWait(t *testing.T) {
	dst := newCollector()
	enc := NewHackCheckEncryptor(dst, testKeys(t), NewDecision(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runStage(ctx, enc.Run)

	go func() {
		_, _ = enc.Writer().Write([]byte{0xC1, 0x03, 0x00})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := waitStage(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dst.Bytes())
	assert.True(t, dst.Closed())
}

func TestHackCheckEncryptor_CancelWhileIdle(t *testing.T) {
	dst := newCollector()
	enc := NewHackCheckEncryptor(dst, testKeys(t), NewResolvedDecision(HackCheckActive), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runStage(ctx, enc.Run)
	cancel()

	err := waitStage(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, io.ErrClosedPipe)
	assert.True(t, dst.Closed())
}

func TestHackCheckEncryptor_WriterFailsAfterRunEnds(t *testing.T) {
	enc := NewHackCheckEncryptor(newCollector(), testKeys(t), NewResolvedDecision(HackCheckInactive), nil)
	done := runStage(context.Background(), enc.Run)

	require.NoError(t, enc.Writer().Close())
	require.NoError(t, waitStage(t, done))

	_, err := enc.Writer().Write([]byte{0xC1})
	assert.Error(t, err)
}
