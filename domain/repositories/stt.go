package repositories

import "context"

// SpeechToText abstracts speech recognition services.
type SpeechToText interface {
	// Transcribe converts a complete buffered audio segment to text.
	Transcribe(ctx context.Context, audioData []byte, config AudioConfig) (Transcription, error)
}

// AudioConfig represents audio configuration for speech recognition.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// Transcription is the result of one recognition call.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}
