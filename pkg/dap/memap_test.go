package dap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowChunkStaysWithinWindow(t *testing.T) {
	tests := []struct {
		name      string
		cur       uint32
		remaining int
		want      int
	}{
		{"aligned, fits fully within one window", 0x0000, 100, 100},
		{"aligned, more than one window", 0x0000, 300, tarWindowSize / 4},
		{"mid window, exactly to boundary", 0x03F0, 4, 4},
		{"mid window, crosses boundary", 0x03F0, 10, 4},
		{"one word before boundary", 0x03FC, 50, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := windowChunk(tt.cur, tt.remaining)
			assert.Equalf(t, tt.want, got, "windowChunk(0x%04X, %d)", tt.cur, tt.remaining)
		})
	}
}

func TestWindowChunkProducesExactlyOneReprogramPerBoundary(t *testing.T) {
	const n = 370 // 64 words to the first boundary, one full window, then a partial tail
	cur := uint32(0x0300)
	remaining := n
	boundaries := 0
	for remaining > 0 {
		chunk := windowChunk(cur, remaining)
		require.NotZerof(t, chunk, "windowChunk returned 0 with %d remaining at 0x%04X", remaining, cur)
		cur += uint32(chunk * 4)
		remaining -= chunk
		if remaining > 0 {
			boundaries++
		}
	}
	assert.Equalf(t, 2, boundaries, "crossed window boundaries for a %d-word span from 0x0300", n)
}
