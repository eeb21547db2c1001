package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEgressDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	e := NewEgress(sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Enqueue(OutMessage{Type: OutTextChunk, Text: "a", Generation: 1})
	e.Enqueue(OutMessage{Type: OutTextChunk, Text: "b", Generation: 1})
	e.Enqueue(OutMessage{Type: OutTextChunk, Text: "c", Generation: 1})

	waitFor(t, time.Second, func() bool { return len(sink.snapshot()) == 3 })

	msgs := sink.snapshot()
	assert.Equal(t, "a", msgs[0].Text)
	assert.Equal(t, "b", msgs[1].Text)
	assert.Equal(t, "c", msgs[2].Text)
}

func TestAdvanceGenerationDropsStaleQueuedMessages(t *testing.T) {
	sink := &recordingSink{}
	e := NewEgress(sink, nil)

	e.Enqueue(OutMessage{Type: OutTextChunk, Text: "stale", Generation: 1})
	e.AdvanceGeneration(2)
	e.Enqueue(OutMessage{Type: OutTextChunk, Text: "fresh", Generation: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	waitFor(t, time.Second, func() bool { return len(sink.snapshot()) >= 2 })

	var texts []string
	var sawStopMarker bool
	for _, m := range sink.snapshot() {
		if m.Type == OutStopAudioImmediate {
			sawStopMarker = true
			continue
		}
		texts = append(texts, m.Text)
	}
	assert.True(t, sawStopMarker)
	assert.NotContains(t, texts, "stale")
	assert.Contains(t, texts, "fresh")
}

func TestEgressCloseStopsAcceptingMessages(t *testing.T) {
	sink := &recordingSink{}
	e := NewEgress(sink, nil)
	e.Close()
	e.Enqueue(OutMessage{Type: OutTextChunk, Text: "dropped"})

	_, ok := e.dequeue()
	require.False(t, ok)
}
