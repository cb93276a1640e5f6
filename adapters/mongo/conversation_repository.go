package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/domain/repositories"
)

// ConversationRepository is the MongoDB implementation of the conversation
// store. Documents use application-generated UUID string ids so the same
// ids travel through events and persistence.
type ConversationRepository struct {
	sessions  *mongo.Collection
	turns     *mongo.Collection
	emotions  *mongo.Collection
	snapshots *mongo.Collection
	speakers  *mongo.Collection
}

var _ repositories.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates a new MongoDB conversation repository
func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{
		sessions:  db.Collection("sessions"),
		turns:     db.Collection("turns"),
		emotions:  db.Collection("emotions"),
		snapshots: db.Collection("metrics_snapshots"),
		speakers:  db.Collection("speakers"),
	}
}

// CreateSession implements repositories.ConversationRepository.
func (r *ConversationRepository) CreateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if _, err := r.sessions.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession implements repositories.ConversationRepository. Returns nil
// without error when the session does not exist.
func (r *ConversationRepository) GetSession(ctx context.Context, id string) (*entities.Session, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	var session entities.Session
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

// UpdateSession implements repositories.ConversationRepository.
func (r *ConversationRepository) UpdateSession(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	update := bson.M{
		"$set": bson.M{
			"user_id":       session.UserID,
			"ended_at":      session.EndedAt,
			"message_count": session.MessageCount,
			"active":        session.Active,
		},
	}
	result, err := r.sessions.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("session with ID %s not found", session.ID)
	}
	return nil
}

// CreateTurn implements repositories.ConversationRepository.
func (r *ConversationRepository) CreateTurn(ctx context.Context, turn *entities.Turn) error {
	if turn == nil {
		return errors.New("turn cannot be nil")
	}
	if err := turn.Validate(); err != nil {
		return err
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if _, err := r.turns.InsertOne(ctx, turn); err != nil {
		return fmt.Errorf("failed to create turn: %w", err)
	}
	return nil
}

// RecentTurns implements repositories.ConversationRepository. Turns are
// returned most recent first.
func (r *ConversationRepository) RecentTurns(ctx context.Context, sessionID string, limit int) ([]entities.Turn, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(int64(limit))
	cursor, err := r.turns.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns for session %s: %w", sessionID, err)
	}
	defer cursor.Close(ctx)

	var turns []entities.Turn
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("failed to decode turns: %w", err)
	}
	return turns, nil
}

// ListTurns implements repositories.ConversationRepository.
func (r *ConversationRepository) ListTurns(ctx context.Context, limit int) ([]entities.Turn, error) {
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(int64(limit))
	cursor, err := r.turns.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer cursor.Close(ctx)

	var turns []entities.Turn
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("failed to decode turns: %w", err)
	}
	return turns, nil
}

// CreateEmotionRecord implements repositories.ConversationRepository.
func (r *ConversationRepository) CreateEmotionRecord(ctx context.Context, record *entities.EmotionRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if _, err := r.emotions.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to create emotion record: %w", err)
	}
	return nil
}

// SessionMetrics implements repositories.ConversationRepository.
func (r *ConversationRepository) SessionMetrics(ctx context.Context, sessionID string) (*repositories.SessionMetrics, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	metrics := &repositories.SessionMetrics{SessionID: sessionID}

	userTurns, err := r.turns.CountDocuments(ctx, bson.M{"session_id": sessionID, "role": entities.TurnRoleUser})
	if err != nil {
		return nil, fmt.Errorf("failed to count user turns: %w", err)
	}
	assistantTurns, err := r.turns.CountDocuments(ctx, bson.M{"session_id": sessionID, "role": entities.TurnRoleAssistant})
	if err != nil {
		return nil, fmt.Errorf("failed to count assistant turns: %w", err)
	}
	emotionRecords, err := r.emotions.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to count emotion records: %w", err)
	}

	metrics.UserTurns = int(userTurns)
	metrics.AssistantTurns = int(assistantTurns)
	metrics.TurnCount = int(userTurns + assistantTurns)
	metrics.EmotionRecords = int(emotionRecords)
	return metrics, nil
}

// SaveMetricsSnapshot implements repositories.ConversationRepository.
func (r *ConversationRepository) SaveMetricsSnapshot(ctx context.Context, snapshot *entities.MetricsSnapshot) error {
	if snapshot == nil {
		return errors.New("snapshot cannot be nil")
	}

	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	if _, err := r.snapshots.InsertOne(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save metrics snapshot: %w", err)
	}
	return nil
}

// LatestMetricsSnapshot implements repositories.ConversationRepository.
// Returns nil without error when no snapshot has been written yet.
func (r *ConversationRepository) LatestMetricsSnapshot(ctx context.Context) (*entities.MetricsSnapshot, error) {
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})

	var snapshot entities.MetricsSnapshot
	err := r.snapshots.FindOne(ctx, bson.M{}, opts).Decode(&snapshot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest metrics snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListSpeakers implements repositories.ConversationRepository.
func (r *ConversationRepository) ListSpeakers(ctx context.Context) ([]entities.SpeakerProfile, error) {
	cursor, err := r.speakers.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %w", err)
	}
	defer cursor.Close(ctx)

	var speakers []entities.SpeakerProfile
	if err := cursor.All(ctx, &speakers); err != nil {
		return nil, fmt.Errorf("failed to decode speakers: %w", err)
	}
	return speakers, nil
}
