package entities

import (
	"errors"
	"time"
)

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is a single persisted utterance within a session. Turns are
// append-only; ordering within a session is defined by CreatedAt.
type Turn struct {
	ID               string    `json:"id" bson:"_id,omitempty"`
	SessionID        string    `json:"session_id" bson:"session_id"`
	Role             TurnRole  `json:"role" bson:"role"`
	Content          string    `json:"content" bson:"content"`
	Confidence       *float64  `json:"confidence,omitempty" bson:"confidence,omitempty"`
	Emotion          *string   `json:"emotion,omitempty" bson:"emotion,omitempty"`
	ProcessingTimeMs *int64    `json:"processing_time_ms,omitempty" bson:"processing_time_ms,omitempty"`
	Model            *string   `json:"model,omitempty" bson:"model,omitempty"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
}

// Validate validates a turn before persistence.
func (t *Turn) Validate() error {
	if t.SessionID == "" {
		return errors.New("session_id is required")
	}
	if t.Role != TurnRoleUser && t.Role != TurnRoleAssistant {
		return errors.New("invalid turn role")
	}
	if t.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// EmotionRecord is the analysis output tied to one user turn. Written once,
// never updated.
type EmotionRecord struct {
	ID              string             `json:"id" bson:"_id,omitempty"`
	TurnID          string             `json:"turn_id" bson:"turn_id"`
	SessionID       string             `json:"session_id" bson:"session_id"`
	Sentiment       string             `json:"sentiment" bson:"sentiment"`
	SentimentScore  float64            `json:"sentiment_score" bson:"sentiment_score"`
	Emotions        map[string]float64 `json:"emotions" bson:"emotions"`
	DominantEmotion string             `json:"dominant_emotion" bson:"dominant_emotion"`
	StressLevel     float64            `json:"stress_level" bson:"stress_level"`
	EnergyLevel     float64            `json:"energy_level" bson:"energy_level"`
	Coherence       float64            `json:"coherence" bson:"coherence"`
	Recommendations []string           `json:"recommendations,omitempty" bson:"recommendations,omitempty"`
	CreatedAt       time.Time          `json:"created_at" bson:"created_at"`
}

var emotionCategories = []string{"joy", "sadness", "anger", "fear", "surprise", "calm"}

// NeutralEmotionRecord returns the fallback record used when the scoring
// provider fails: neutral sentiment with balanced category scores.
func NeutralEmotionRecord(sessionID, turnID string) *EmotionRecord {
	emotions := make(map[string]float64, len(emotionCategories))
	for _, category := range emotionCategories {
		emotions[category] = 1.0 / float64(len(emotionCategories))
	}
	return &EmotionRecord{
		TurnID:          turnID,
		SessionID:       sessionID,
		Sentiment:       "neutral",
		SentimentScore:  0.5,
		Emotions:        emotions,
		DominantEmotion: "calm",
		StressLevel:     0.5,
		EnergyLevel:     0.5,
		Coherence:       0.5,
		CreatedAt:       time.Now(),
	}
}

// MetricsSnapshot is a periodic aggregate written by the connection
// registry and read back by the status endpoint.
type MetricsSnapshot struct {
	ID             string    `json:"id" bson:"_id,omitempty"`
	Connections    int       `json:"connections" bson:"connections"`
	ActiveSessions int       `json:"active_sessions" bson:"active_sessions"`
	UptimeSeconds  int64     `json:"uptime_seconds" bson:"uptime_seconds"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// SpeakerProfile is a stored speaker entry. Speaker identification itself
// is out of scope; profiles are opaque records surfaced by get_speakers.
type SpeakerProfile struct {
	ID        string    `json:"id" bson:"_id,omitempty"`
	Label     string    `json:"label" bson:"label"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
