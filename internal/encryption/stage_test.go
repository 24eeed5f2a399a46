package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanceled(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	boom := errors.New("boom")
	closedPipe := fmt.Errorf("reading source: %w", io.ErrClosedPipe)

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want error
	}{
		{"nil error", done, nil, nil},
		{"live context keeps error", live, closedPipe, io.ErrClosedPipe},
		{"other error kept", done, boom, boom},
		{"closed pipe becomes cause", done, closedPipe, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := canceled(tt.ctx, tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
