package repositories

import (
	"context"

	"github.com/sentirelabs/sentire/domain/entities"
)

// ResponseGenerator abstracts the text generation provider.
type ResponseGenerator interface {
	// Generate produces an assistant reply for the transcript given recent
	// conversation context (chronological order). When onToken is non-nil
	// it is invoked with each text increment in provider-emission order;
	// the returned result carries the aggregated text.
	Generate(ctx context.Context, transcript string, history []entities.Turn, onToken func(token string)) (Generation, error)
}

// Generation is the final aggregated output of one generation call.
type Generation struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// EmotionScorer abstracts the sentiment/psychological scoring provider.
type EmotionScorer interface {
	// Score analyzes a user utterance. Callers substitute a neutral
	// fallback record when it fails.
	Score(ctx context.Context, text string) (*entities.EmotionRecord, error)
}
