package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*HashEmbedder
	calls atomic.Int32
	texts atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	c.texts.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	if c.err != nil {
		return nil, c.err
	}
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("should serve repeats from memory", func(t *testing.T) {
		inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
		c := NewCachedEmbedder(inner, time.Minute)

		v1, err := c.Embed(ctx, "What is EBITDA?")
		require.NoError(t, err)
		v2, err := c.Embed(ctx, "What is EBITDA?")
		require.NoError(t, err)

		assert.Equal(t, v1, v2)
		assert.Equal(t, int32(1), inner.calls.Load())
		assert.Equal(t, 1, c.Len())
		assert.Equal(t, 16, c.Dimension())
		assert.Equal(t, "sha256-hash", c.Model())
	})

	t.Run("should only embed missing texts in a batch", func(t *testing.T) {
		inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
		c := NewCachedEmbedder(inner, time.Minute)
		_, err := c.Embed(ctx, "a")
		require.NoError(t, err)

		vecs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		for _, v := range vecs {
			assert.Len(t, v, 16)
		}
		assert.Equal(t, int32(3), inner.texts.Load(), "a once, then b and c")

		_, err = c.EmbedBatch(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), inner.calls.Load())
	})

	t.Run("should not cache failures", func(t *testing.T) {
		inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16), err: errors.New("upstream down")}
		c := NewCachedEmbedder(inner, time.Minute)

		_, err := c.Embed(ctx, "q")
		assert.Error(t, err)
		_, err = c.Embed(ctx, "q")
		assert.Error(t, err)
		assert.Equal(t, int32(2), inner.calls.Load())
		assert.Zero(t, c.Len())
	})
}
