package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/domain/repositories"
)

const (
	defaultModel           = "gemini-2.0-flash"
	defaultTemperature     = 0.7
	defaultTopP            = 0.9
	defaultMaxOutputTokens = 1024
)

const systemPrompt = `You are Sentire, a calm and attentive voice companion.
Respond to the speaker in a warm, conversational tone. Keep answers short
enough to be spoken aloud, usually two or three sentences. Never mention
that you are an AI model.`

// GeminiGenerator implements ResponseGenerator using Google's Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewGeminiGenerator creates a new Gemini-backed response generator.
func NewGeminiGenerator(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiGenerator, error) {
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

	return &GeminiGenerator{
		client: client,
		logger: logger,
		model:  defaultModel,
	}, nil
}

// Generate produces a conversational reply to the transcript given recent
// history in chronological order. When onToken is non-nil the response is
// streamed and each text part is forwarded as it arrives.
func (g *GeminiGenerator) Generate(ctx context.Context, transcript string, history []entities.Turn, onToken func(token string)) (repositories.Generation, error) {
	contents := g.buildContents(transcript, history)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(defaultTemperature)),
		TopP:            genai.Ptr(float32(defaultTopP)),
		MaxOutputTokens: int32(defaultMaxOutputTokens),
	}

	started := time.Now()
	var text string
	var err error
	if onToken != nil {
		text, err = g.generateStreaming(ctx, contents, config, onToken)
	} else {
		text, err = g.generateBlocking(ctx, contents, config)
	}
	if err != nil {
		return repositories.Generation{}, err
	}
	if text == "" {
		return repositories.Generation{}, fmt.Errorf("empty response from model")
	}

	g.logger.Debug("Generated response",
		zap.String("model", g.model),
		zap.Int("length", len(text)),
		zap.Duration("elapsed", time.Since(started)))

	return repositories.Generation{Text: text, Model: g.model}, nil
}

func (g *GeminiGenerator) generateBlocking(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content generated")
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text, nil
}

func (g *GeminiGenerator) generateStreaming(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, onToken func(token string)) (string, error) {
	var text string
	for response, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			return "", fmt.Errorf("failed to stream content: %w", err)
		}
		if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
			continue
		}
		for _, part := range response.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			text += part.Text
			onToken(part.Text)
		}
	}
	return text, nil
}

func (g *GeminiGenerator) buildContents(transcript string, history []entities.Turn) []*genai.Content {
	contents := []*genai.Content{
		genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}

	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == entities.TurnRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	return append(contents, genai.NewContentFromText(transcript, genai.RoleUser))
}
