package encryption

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/mugate/internal/crypto"
	"github.com/udisondev/mugate/internal/protocol"
)

const (
	testTimeout     = 2 * time.Second
	testKeyMaterial = "0123456789abcdef-hackcheck"
)

func testKeys(t *testing.T) *crypto.HackCheckKeys {
	t.Helper()
	keys, err := crypto.NewHackCheckKeys([]byte(testKeyMaterial))
	require.NoError(t, err)
	return keys
}

func mustPacket(t *testing.T, header byte, body ...byte) []byte {
	t.Helper()
	p, err := protocol.NewPacket(header, body...)
	require.NoError(t, err)
	return p
}

// runStage starts run in a goroutine and returns a channel with its result.
func runStage(ctx context.Context, run func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()
	return done
}

func waitStage(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("stage did not finish in time")
		return nil
	}
}

// feed writes chunks to w one by one in a goroutine and closes w with closeErr.
func feed(w *io.PipeWriter, closeErr error, chunks ...[]byte) {
	go func() {
		for _, c := range chunks {
			if _, err := w.Write(c); err != nil {
				return
			}
		}
		w.CloseWithError(closeErr)
	}()
}

// readAll reads r until EOF or error with a timeout.
func readAll(t *testing.T, r io.Reader) ([]byte, error) {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		ch <- result{data, err}
	}()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-time.After(testTimeout):
		t.Fatal("read did not finish in time")
		return nil, nil
	}
}

// nopWriteCloser collects output and records Close.
type nopWriteCloser struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	wrote  chan struct{}
}

func newCollector() *nopWriteCloser {
	return &nopWriteCloser{wrote: make(chan struct{}, 64)}
}

func (c *nopWriteCloser) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.buf.Write(p)
	select {
	case c.wrote <- struct{}{}:
	default:
	}
	return n, err
}

func (c *nopWriteCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *nopWriteCloser) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

func (c *nopWriteCloser) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
