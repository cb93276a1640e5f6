package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/domain/repositories"
)

// ConversationRepository is an in-memory implementation of the conversation
// store, used in development mode and tests.
type ConversationRepository struct {
	mu        sync.RWMutex
	sessions  map[string]*entities.Session
	turns     []entities.Turn
	emotions  []entities.EmotionRecord
	snapshots []entities.MetricsSnapshot
	speakers  []entities.SpeakerProfile
}

// Ensure ConversationRepository implements the store interface
var _ repositories.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates an empty in-memory repository.
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		sessions: make(map[string]*entities.Session),
	}
}

// CreateSession implements repositories.ConversationRepository.
func (m *ConversationRepository) CreateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

// GetSession implements repositories.ConversationRepository. Returns nil
// without error when the session does not exist.
func (m *ConversationRepository) GetSession(ctx context.Context, id string) (*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

// UpdateSession implements repositories.ConversationRepository.
func (m *ConversationRepository) UpdateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return errors.New("session not found")
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

// CreateTurn implements repositories.ConversationRepository.
func (m *ConversationRepository) CreateTurn(ctx context.Context, turn *entities.Turn) error {
	if turn == nil {
		return errors.New("turn cannot be nil")
	}
	if err := turn.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	m.turns = append(m.turns, *turn)
	return nil
}

// RecentTurns implements repositories.ConversationRepository. Turns are
// returned most recent first.
func (m *ConversationRepository) RecentTurns(ctx context.Context, sessionID string, limit int) ([]entities.Turn, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []entities.Turn
	for i := len(m.turns) - 1; i >= 0 && len(result) < limit; i-- {
		if m.turns[i].SessionID == sessionID {
			result = append(result, m.turns[i])
		}
	}
	return result, nil
}

// ListTurns implements repositories.ConversationRepository.
func (m *ConversationRepository) ListTurns(ctx context.Context, limit int) ([]entities.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []entities.Turn
	for i := len(m.turns) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.turns[i])
	}
	return result, nil
}

// CreateEmotionRecord implements repositories.ConversationRepository.
func (m *ConversationRepository) CreateEmotionRecord(ctx context.Context, record *entities.EmotionRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	m.emotions = append(m.emotions, *record)
	return nil
}

// SessionMetrics implements repositories.ConversationRepository.
func (m *ConversationRepository) SessionMetrics(ctx context.Context, sessionID string) (*repositories.SessionMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := &repositories.SessionMetrics{SessionID: sessionID}
	for _, turn := range m.turns {
		if turn.SessionID != sessionID {
			continue
		}
		metrics.TurnCount++
		if turn.Role == entities.TurnRoleUser {
			metrics.UserTurns++
		} else {
			metrics.AssistantTurns++
		}
	}
	for _, record := range m.emotions {
		if record.SessionID == sessionID {
			metrics.EmotionRecords++
		}
	}
	return metrics, nil
}

// SaveMetricsSnapshot implements repositories.ConversationRepository.
func (m *ConversationRepository) SaveMetricsSnapshot(ctx context.Context, snapshot *entities.MetricsSnapshot) error {
	if snapshot == nil {
		return errors.New("snapshot cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	m.snapshots = append(m.snapshots, *snapshot)
	return nil
}

// LatestMetricsSnapshot implements repositories.ConversationRepository.
// Returns nil without error when no snapshot has been written.
func (m *ConversationRepository) LatestMetricsSnapshot(ctx context.Context) (*entities.MetricsSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.snapshots) == 0 {
		return nil, nil
	}
	latest := m.snapshots[len(m.snapshots)-1]
	return &latest, nil
}

// ListSpeakers implements repositories.ConversationRepository.
func (m *ConversationRepository) ListSpeakers(ctx context.Context) ([]entities.SpeakerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]entities.SpeakerProfile, len(m.speakers))
	copy(result, m.speakers)
	return result, nil
}

// AddSpeaker registers a speaker profile. Used by tests and dev seeding.
func (m *ConversationRepository) AddSpeaker(label string) entities.SpeakerProfile {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile := entities.SpeakerProfile{
		ID:        uuid.New().String(),
		Label:     label,
		CreatedAt: time.Now(),
	}
	m.speakers = append(m.speakers, profile)
	return profile
}
