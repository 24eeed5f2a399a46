package encryption

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// DecryptorChain runs layered decryptors: each stage reads the previous
// stage's output. The first stage reads the transport.
type DecryptorChain []Decryptor

// Reader returns the output of the innermost stage.
func (c DecryptorChain) Reader() io.Reader {
	return c[len(c)-1].Reader()
}

// Run runs every stage in its own goroutine and returns the first error.
func (c DecryptorChain) Run(ctx context.Context) error {
	return runStages(ctx, len(c), func(i int) func(context.Context) error { return c[i].Run })
}

// EncryptorChain runs layered encryptors: the producer writes to the first
// stage, the last stage writes to the transport.
type EncryptorChain []Encryptor

// Writer returns the input of the first stage.
func (c EncryptorChain) Writer() io.WriteCloser {
	return c[0].Writer()
}

// Run runs every stage in its own goroutine and returns the first error.
func (c EncryptorChain) Run(ctx context.Context) error {
	return runStages(ctx, len(c), func(i int) func(context.Context) error { return c[i].Run })
}

func runStages(ctx context.Context, n int, stage func(i int) func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		run := stage(i)
		g.Go(func() error {
			return run(gctx)
		})
	}
	return g.Wait()
}

// KeySelectionOf returns the Xor32 key choice made by d or by any stage of a
// chain. ok is false if no Xor32 stage selected a key.
func KeySelectionOf(d Decryptor) (KeySelection, bool) {
	switch s := d.(type) {
	case *Xor32Decryptor:
		return s.Selected()
	case DecryptorChain:
		for _, stage := range s {
			if sel, ok := KeySelectionOf(stage); ok {
				return sel, true
			}
		}
	}
	return KeyUndecided, false
}
