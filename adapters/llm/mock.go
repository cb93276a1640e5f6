package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/domain/repositories"
)

// MockGenerator is a placeholder response generator for running without
// provider credentials.
type MockGenerator struct{}

// NewMockGenerator creates a new mock response generator.
func NewMockGenerator() repositories.ResponseGenerator {
	return &MockGenerator{}
}

// Generate implements repositories.ResponseGenerator.
func (g *MockGenerator) Generate(ctx context.Context, transcript string, history []entities.Turn, onToken func(token string)) (repositories.Generation, error) {
	var response string
	switch {
	case len(history) > 0:
		response = fmt.Sprintf("Thanks for sharing that. I heard you say '%s'. What else is on your mind?", transcript)
	default:
		response = fmt.Sprintf("I heard you say '%s'. Tell me more about that.", transcript)
	}

	if onToken != nil {
		for _, word := range strings.SplitAfter(response, " ") {
			onToken(word)
		}
	}

	return repositories.Generation{Text: response, Model: "mock"}, nil
}

// MockScorer is a placeholder emotion scorer. Scoring is keyword-driven so
// demo sessions show varied output.
type MockScorer struct{}

// NewMockScorer creates a new mock emotion scorer.
func NewMockScorer() repositories.EmotionScorer {
	return &MockScorer{}
}

// Score implements repositories.EmotionScorer.
func (s *MockScorer) Score(ctx context.Context, text string) (*entities.EmotionRecord, error) {
	record := entities.NeutralEmotionRecord("", "")
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "happy") || strings.Contains(lower, "great"):
		record.Sentiment = "positive"
		record.SentimentScore = 0.85
		record.Emotions["joy"] = 0.7
		record.DominantEmotion = "joy"
		record.EnergyLevel = 0.8
	case strings.Contains(lower, "sad") || strings.Contains(lower, "tired"):
		record.Sentiment = "negative"
		record.SentimentScore = 0.25
		record.Emotions["sadness"] = 0.6
		record.DominantEmotion = "sadness"
		record.EnergyLevel = 0.3
		record.Recommendations = []string{"Consider taking a short break."}
	case strings.Contains(lower, "angry") || strings.Contains(lower, "frustrated"):
		record.Sentiment = "negative"
		record.SentimentScore = 0.2
		record.Emotions["anger"] = 0.65
		record.DominantEmotion = "anger"
		record.StressLevel = 0.8
	}

	return record, nil
}
