package stt

import (
	"context"

	"github.com/lokutor-ai/voxdialog/pkg/audio"
)

// batchTranscriber is satisfied by providers that only offer a
// whole-utterance HTTP call (Groq, OpenAI Whisper, AssemblyAI). streamBatch
// adapts such a provider to dialog.STTProvider by buffering every frame of
// one utterance and invoking transcribe once the channel is closed
// (spec.md §4.4 treats speech_end as the signal to finalize).
type batchTranscriber interface {
	transcribe(ctx context.Context, wav []byte, lang string) (string, error)
}

func streamBatch(ctx context.Context, sampleRate int, bt batchTranscriber, lang string, onTranscript func(string, bool) error) (chan<- []byte, error) {
	audioCh := make(chan []byte, 64)

	go func() {
		var pcm []byte
	collect:
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-audioCh:
				if !ok {
					break collect
				}
				pcm = append(pcm, frame...)
			}
		}

		if len(pcm) == 0 {
			return
		}
		wav := audio.NewWavBuffer(pcm, sampleRate)
		text, err := bt.transcribe(ctx, wav, lang)
		if err != nil || text == "" {
			return
		}
		_ = onTranscript(text, true)
	}()

	return audioCh, nil
}
