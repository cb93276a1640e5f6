package repositories

import "context"

// TextToSpeech abstracts speech synthesis. The returned channel yields
// audio chunks in synthesis order and is closed when the stream ends.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
