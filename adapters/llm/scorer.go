package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sentirelabs/sentire/domain/entities"
)

const scorerModel = "gemini-2.0-flash"

const scorerPrompt = `Analyze the emotional content of the utterance below.
Reply with a single JSON object and nothing else, using this shape:
{
  "sentiment": "positive" | "neutral" | "negative",
  "sentiment_score": 0.0 to 1.0,
  "emotions": {"joy": 0.0, "sadness": 0.0, "anger": 0.0, "fear": 0.0, "surprise": 0.0, "calm": 0.0},
  "dominant_emotion": "<one of the emotion keys>",
  "stress_level": 0.0 to 1.0,
  "energy_level": 0.0 to 1.0,
  "coherence": 0.0 to 1.0,
  "recommendations": ["short suggestion", ...]
}

Utterance: %q`

// GeminiScorer implements EmotionScorer using Google's Gemini API with a
// JSON-constrained prompt.
type GeminiScorer struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewGeminiScorer creates a new Gemini-backed emotion scorer.
func NewGeminiScorer(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiScorer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiScorer{
		client: client,
		logger: logger,
		model:  scorerModel,
	}, nil
}

// Score analyzes the emotional content of a transcript.
func (s *GeminiScorer) Score(ctx context.Context, text string) (*entities.EmotionRecord, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(scorerPrompt, text), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.1)),
		ResponseMIMEType: "application/json",
	}

	response, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to score emotion: %w", err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no content generated")
	}

	var raw string
	for _, part := range response.Candidates[0].Content.Parts {
		raw += part.Text
	}

	record, err := parseEmotionPayload(raw)
	if err != nil {
		s.logger.Warn("Unparseable emotion payload",
			zap.String("payload", raw),
			zap.Error(err))
		return nil, err
	}
	return record, nil
}

type emotionPayload struct {
	Sentiment       string             `json:"sentiment"`
	SentimentScore  float64            `json:"sentiment_score"`
	Emotions        map[string]float64 `json:"emotions"`
	DominantEmotion string             `json:"dominant_emotion"`
	StressLevel     float64            `json:"stress_level"`
	EnergyLevel     float64            `json:"energy_level"`
	Coherence       float64            `json:"coherence"`
	Recommendations []string           `json:"recommendations"`
}

// parseEmotionPayload decodes the model's JSON reply. Markdown code fences
// around the object are tolerated.
func parseEmotionPayload(raw string) (*entities.EmotionRecord, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload emotionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode emotion payload: %w", err)
	}
	if payload.Sentiment == "" {
		return nil, fmt.Errorf("emotion payload missing sentiment")
	}

	if payload.DominantEmotion == "" {
		var best float64
		for name, score := range payload.Emotions {
			if score > best {
				best = score
				payload.DominantEmotion = name
			}
		}
	}

	return &entities.EmotionRecord{
		Sentiment:       payload.Sentiment,
		SentimentScore:  payload.SentimentScore,
		Emotions:        payload.Emotions,
		DominantEmotion: payload.DominantEmotion,
		StressLevel:     payload.StressLevel,
		EnergyLevel:     payload.EnergyLevel,
		Coherence:       payload.Coherence,
		Recommendations: payload.Recommendations,
	}, nil
}
