package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sentirelabs/sentire/domain/repositories"
)

// MockSpeechToText is a placeholder implementation for speech recognition
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) repositories.SpeechToText {
	return &MockSpeechToText{
		logger: logger,
	}
}

// Transcribe implements repositories.SpeechToText
func (s *MockSpeechToText) Transcribe(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcription, error) {
	s.logger.Info("Processing speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	if len(audioData) == 0 {
		return repositories.Transcription{}, fmt.Errorf("no audio data received")
	}

	// Mock transcription based on audio size
	switch {
	case len(audioData) > 10000:
		return repositories.Transcription{
			Text:       "I had a really long day and I wanted to talk it through with someone.",
			Confidence: 0.94,
		}, nil
	case len(audioData) > 5000:
		return repositories.Transcription{
			Text:       "Thanks for listening to me.",
			Confidence: 0.91,
		}, nil
	case len(audioData) > 1000:
		return repositories.Transcription{
			Text:       "Hello there!",
			Confidence: 0.88,
		}, nil
	default:
		return repositories.Transcription{Text: "Hi", Confidence: 0.80}, nil
	}
}
