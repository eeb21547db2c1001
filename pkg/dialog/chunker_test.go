package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseChunkerEmitsOnSentenceBoundary(t *testing.T) {
	c := NewResponseChunker(240, 1)

	units := c.Feed("Hello there. ")
	require.Len(t, units, 1)
	assert.Equal(t, 0, units[0].Index)
	assert.Equal(t, "Hello there. ", units[0].Text)
	assert.Equal(t, uint64(1), units[0].Generation)
}

func TestResponseChunkerBuffersIncompleteSentence(t *testing.T) {
	c := NewResponseChunker(240, 1)

	units := c.Feed("Hello")
	assert.Empty(t, units)

	units = c.Feed(" there, how are you")
	assert.Empty(t, units)

	units = c.Feed(" doing? ")
	require.Len(t, units, 1)
	assert.Equal(t, "Hello there, how are you doing? ", units[0].Text)
}

func TestResponseChunkerForcesUnitAtSoftCap(t *testing.T) {
	c := NewResponseChunker(10, 1)

	units := c.Feed("this sentence has no terminal punctuation for a while")
	require.NotEmpty(t, units)
	for _, u := range units {
		assert.LessOrEqual(t, len(u.Text), 10)
	}
}

func TestResponseChunkerFlushEmitsBufferedTail(t *testing.T) {
	c := NewResponseChunker(240, 1)

	units := c.Feed("no terminator yet")
	assert.Empty(t, units)

	units = c.Flush()
	require.Len(t, units, 1)
	assert.Equal(t, "no terminator yet", units[0].Text)

	assert.Empty(t, c.Flush())
}

func TestResponseChunkerIndexesIncreaseMonotonically(t *testing.T) {
	c := NewResponseChunker(240, 1)

	units := c.Feed("One. Two. Three. ")
	require.Len(t, units, 3)
	assert.Equal(t, 0, units[0].Index)
	assert.Equal(t, 1, units[1].Index)
	assert.Equal(t, 2, units[2].Index)
}

func TestResponseChunkerHandlesRunsOfTerminalPunctuation(t *testing.T) {
	c := NewResponseChunker(240, 1)

	units := c.Feed("Are you serious?! Yes. ")
	require.Len(t, units, 2)
	assert.Equal(t, "Are you serious?! ", units[0].Text)
	assert.Equal(t, "Yes. ", units[1].Text)
}
