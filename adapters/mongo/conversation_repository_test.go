package mongo

import (
	"context"
	"os"
	"testing"

	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sentirelabs/sentire/domain/entities"
)

// TestConversationRepository_Integration requires a running MongoDB
// instance (skipped if MONGODB_URI is not set).
func TestConversationRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()

	client, err := driver.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	testDB := client.Database("sentire_test")
	defer testDB.Drop(ctx)

	repo := NewConversationRepository(testDB)

	t.Run("SessionLifecycle", func(t *testing.T) {
		session := entities.NewSession("user-001")

		if err := repo.CreateSession(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if session.ID == "" {
			t.Fatal("Expected session ID to be assigned")
		}

		retrieved, err := repo.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if retrieved == nil || !retrieved.Active {
			t.Fatal("Expected an active session")
		}

		retrieved.End()
		if err := repo.UpdateSession(ctx, retrieved); err != nil {
			t.Fatalf("Failed to update session: %v", err)
		}

		ended, err := repo.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("Failed to reload session: %v", err)
		}
		if ended.Active || ended.EndedAt == nil {
			t.Error("Expected session to be ended")
		}
	})

	t.Run("MissingSession", func(t *testing.T) {
		session, err := repo.GetSession(ctx, "does-not-exist")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if session != nil {
			t.Error("Expected nil for missing session")
		}
	})

	t.Run("TurnsAndMetrics", func(t *testing.T) {
		session := entities.NewSession("user-002")
		if err := repo.CreateSession(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		turns := []*entities.Turn{
			{SessionID: session.ID, Role: entities.TurnRoleUser, Content: "hello"},
			{SessionID: session.ID, Role: entities.TurnRoleAssistant, Content: "hi there"},
			{SessionID: session.ID, Role: entities.TurnRoleUser, Content: "how are you"},
		}
		for _, turn := range turns {
			if err := repo.CreateTurn(ctx, turn); err != nil {
				t.Fatalf("Failed to create turn: %v", err)
			}
		}

		recent, err := repo.RecentTurns(ctx, session.ID, 2)
		if err != nil {
			t.Fatalf("Failed to list recent turns: %v", err)
		}
		if len(recent) != 2 {
			t.Fatalf("Expected 2 recent turns, got %d", len(recent))
		}
		if recent[0].Content != "how are you" {
			t.Errorf("Expected most recent turn first, got %q", recent[0].Content)
		}

		if err := repo.CreateEmotionRecord(ctx, &entities.EmotionRecord{
			SessionID: session.ID,
			TurnID:    turns[0].ID,
			Sentiment: "neutral",
		}); err != nil {
			t.Fatalf("Failed to create emotion record: %v", err)
		}

		metrics, err := repo.SessionMetrics(ctx, session.ID)
		if err != nil {
			t.Fatalf("Failed to compute session metrics: %v", err)
		}
		if metrics.TurnCount != 3 || metrics.UserTurns != 2 || metrics.AssistantTurns != 1 {
			t.Errorf("Unexpected turn counts: %+v", metrics)
		}
		if metrics.EmotionRecords != 1 {
			t.Errorf("Expected 1 emotion record, got %d", metrics.EmotionRecords)
		}
	})

	t.Run("MetricsSnapshots", func(t *testing.T) {
		if err := repo.SaveMetricsSnapshot(ctx, &entities.MetricsSnapshot{
			Connections:    3,
			ActiveSessions: 1,
			UptimeSeconds:  60,
		}); err != nil {
			t.Fatalf("Failed to save snapshot: %v", err)
		}

		snapshot, err := repo.LatestMetricsSnapshot(ctx)
		if err != nil {
			t.Fatalf("Failed to load latest snapshot: %v", err)
		}
		if snapshot == nil || snapshot.Connections != 3 {
			t.Errorf("Unexpected snapshot: %+v", snapshot)
		}
	})
}
