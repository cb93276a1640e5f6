package repositories

import (
	"context"

	"github.com/sentirelabs/sentire/domain/entities"
)

// SessionMetrics aggregates per-session counts for get_session_metrics.
type SessionMetrics struct {
	SessionID      string `json:"session_id"`
	TurnCount      int    `json:"turn_count"`
	UserTurns      int    `json:"user_turns"`
	AssistantTurns int    `json:"assistant_turns"`
	EmotionRecords int    `json:"emotion_records"`
}

// ConversationRepository defines the append-only conversation store. Turn
// and emotion writes after transcript delivery are best-effort; callers
// log and swallow failures.
type ConversationRepository interface {
	CreateSession(ctx context.Context, session *entities.Session) error
	GetSession(ctx context.Context, id string) (*entities.Session, error)
	UpdateSession(ctx context.Context, session *entities.Session) error

	CreateTurn(ctx context.Context, turn *entities.Turn) error
	// RecentTurns returns up to limit turns for the session, most recent
	// first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]entities.Turn, error)
	ListTurns(ctx context.Context, limit int) ([]entities.Turn, error)

	CreateEmotionRecord(ctx context.Context, record *entities.EmotionRecord) error

	SessionMetrics(ctx context.Context, sessionID string) (*SessionMetrics, error)

	SaveMetricsSnapshot(ctx context.Context, snapshot *entities.MetricsSnapshot) error
	LatestMetricsSnapshot(ctx context.Context) (*entities.MetricsSnapshot, error)

	ListSpeakers(ctx context.Context) ([]entities.SpeakerProfile, error)
}
