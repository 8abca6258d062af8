package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferPool(t *testing.T) {
	t.Run("empty with capacity", func(t *testing.T) {
		require := require.New(t)
		bp := GetBuffer()
		require.NotNil(bp)
		require.Empty(*bp)
		require.GreaterOrEqual(cap(*bp), StagingBufferSize)
		PutBuffer(bp)
	})

	t.Run("reused buffer is reset", func(t *testing.T) {
		require := require.New(t)
		bp := GetBuffer()
		*bp = append(*bp, 0x01, 0xFF, 0x0A, 0x00)
		PutBuffer(bp)

		bp2 := GetBuffer()
		require.Empty(*bp2)
		PutBuffer(bp2)
	})

	t.Run("oversized and nil buffers are dropped", func(_ *testing.T) {
		big := make([]byte, 0, maxPooledBufferSize+1)
		PutBuffer(&big)
		PutBuffer(nil)
	})
}
