package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentirelabs/sentire/adapters/memory"
	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/domain/repositories"
)

type recordedEvent struct {
	Name    string
	Payload map[string]interface{}
}

// recordingDispatcher captures emitted events per connection in order.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []recordedEvent
	binary [][]byte
}

func (d *recordingDispatcher) Emit(connectionID string, event string, payload map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, recordedEvent{Name: event, Payload: payload})
}

func (d *recordingDispatcher) EmitBinary(connectionID string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binary = append(d.binary, data)
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.events))
	for i, e := range d.events {
		names[i] = e.Name
	}
	return names
}

type fakeSTT struct {
	text       string
	confidence float64
	err        error
	latency    time.Duration
	calls      atomic.Int32
}

func (f *fakeSTT) Transcribe(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcription, error) {
	f.calls.Add(1)
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	if f.err != nil {
		return repositories.Transcription{}, f.err
	}
	return repositories.Transcription{Text: f.text, Confidence: f.confidence}, nil
}

type fakeScorer struct {
	err error
}

func (f *fakeScorer) Score(ctx context.Context, text string) (*entities.EmotionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &entities.EmotionRecord{
		Sentiment:       "positive",
		SentimentScore:  0.8,
		Emotions:        map[string]float64{"joy": 0.9},
		DominantEmotion: "joy",
	}, nil
}

type fakeGenerator struct {
	text   string
	tokens []string
	err    error
	calls  atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, transcript string, history []entities.Turn, onToken func(string)) (repositories.Generation, error) {
	f.calls.Add(1)
	if f.err != nil {
		return repositories.Generation{}, f.err
	}
	if onToken != nil {
		for _, token := range f.tokens {
			onToken(token)
		}
	}
	return repositories.Generation{Text: f.text, Model: "test-model"}, nil
}

func newTestPipeline(t *testing.T, stt repositories.SpeechToText, scorer repositories.EmotionScorer, generator repositories.ResponseGenerator, opts PipelineOptions) (*PipelineService, *memory.ConversationRepository, *recordingDispatcher, string) {
	t.Helper()

	store := memory.NewConversationRepository()
	session := entities.NewSession("user-1")
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	dispatcher := &recordingDispatcher{}
	pipeline := NewPipelineService(stt, scorer, generator, nil, store, dispatcher, opts, zap.NewNop())
	return pipeline, store, dispatcher, session.ID
}

func TestPipelineEventOrdering(t *testing.T) {
	stt := &fakeSTT{text: "hello there", confidence: 0.92}
	pipeline, store, dispatcher, sessionID := newTestPipeline(t, stt, &fakeScorer{}, &fakeGenerator{text: "hi!"}, PipelineOptions{})

	result, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Transcript != "hello there" {
		t.Errorf("Expected transcript 'hello there', got %q", result.Transcript)
	}

	pipeline.Wait()

	expected := []string{EventProcessing, EventTranscriptReady, EventEmotionAnalysis, EventAIResponseReady}
	names := dispatcher.names()
	if len(names) != len(expected) {
		t.Fatalf("Expected events %v, got %v", expected, names)
	}
	for i, name := range expected {
		if names[i] != name {
			t.Errorf("Expected event %d to be %s, got %s", i, name, names[i])
		}
	}

	turns, err := store.RecentTurns(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Expected 2 persisted turns, got %d", len(turns))
	}
	// Most recent first: assistant, then user.
	if turns[0].Role != entities.TurnRoleAssistant {
		t.Errorf("Expected most recent turn to be assistant, got %s", turns[0].Role)
	}
	if turns[1].Role != entities.TurnRoleUser {
		t.Errorf("Expected older turn to be user, got %s", turns[1].Role)
	}
	if turns[1].Confidence == nil || *turns[1].Confidence != 0.92 {
		t.Error("User turn should carry transcription confidence")
	}

	session, err := store.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.MessageCount != 2 {
		t.Errorf("Expected session message count 2, got %d", session.MessageCount)
	}
}

func TestPipelineAssistantTurnCarriesEmotion(t *testing.T) {
	stt := &fakeSTT{text: "great news", confidence: 0.95}
	pipeline, store, _, sessionID := newTestPipeline(t, stt, &fakeScorer{}, &fakeGenerator{text: "wonderful!"}, PipelineOptions{})

	if _, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	pipeline.Wait()

	turns, err := store.RecentTurns(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}

	var assistant *entities.Turn
	for i := range turns {
		if turns[i].Role == entities.TurnRoleAssistant {
			assistant = &turns[i]
		}
	}
	if assistant == nil {
		t.Fatal("Expected a persisted assistant turn")
	}
	if assistant.Emotion == nil || *assistant.Emotion != "joy" {
		t.Errorf("Expected assistant turn labelled joy, got %v", assistant.Emotion)
	}
}

func TestPipelineEmptyTranscript(t *testing.T) {
	stt := &fakeSTT{text: "   ", confidence: 0.4}
	pipeline, store, dispatcher, sessionID := newTestPipeline(t, stt, &fakeScorer{}, &fakeGenerator{text: "hi"}, PipelineOptions{})

	_, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio"))
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("Expected ErrEmptyTranscript, got %v", err)
	}

	pipeline.Wait()

	names := dispatcher.names()
	if len(names) != 2 || names[0] != EventProcessing || names[1] != EventError {
		t.Errorf("Expected [processing, error], got %v", names)
	}

	turns, _ := store.RecentTurns(context.Background(), sessionID, 10)
	if len(turns) != 0 {
		t.Errorf("Expected no persisted turns, got %d", len(turns))
	}
}

func TestPipelineTranscriptionFailure(t *testing.T) {
	stt := &fakeSTT{err: errors.New("provider unavailable")}
	pipeline, store, dispatcher, sessionID := newTestPipeline(t, stt, &fakeScorer{}, &fakeGenerator{text: "hi"}, PipelineOptions{})

	_, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio"))
	if err == nil {
		t.Fatal("Expected error from failed transcription")
	}

	names := dispatcher.names()
	if names[len(names)-1] != EventError {
		t.Errorf("Expected trailing error event, got %v", names)
	}

	turns, _ := store.RecentTurns(context.Background(), sessionID, 10)
	if len(turns) != 0 {
		t.Errorf("Expected no persisted turns, got %d", len(turns))
	}
}

func TestPipelineScoringFallback(t *testing.T) {
	stt := &fakeSTT{text: "rough day", confidence: 0.85}
	pipeline, store, dispatcher, sessionID := newTestPipeline(t, stt, &fakeScorer{err: errors.New("scorer down")}, &fakeGenerator{text: "sorry to hear"}, PipelineOptions{})

	if _, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	pipeline.Wait()

	metrics, err := store.SessionMetrics(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("SessionMetrics failed: %v", err)
	}
	if metrics.EmotionRecords != 1 {
		t.Errorf("Expected neutral fallback record persisted, got %d records", metrics.EmotionRecords)
	}

	var sawAnalysis, sawResponse bool
	for _, event := range dispatcher.names() {
		switch event {
		case EventEmotionAnalysis:
			sawAnalysis = true
		case EventAIResponseReady:
			sawResponse = true
		}
	}
	if !sawAnalysis {
		t.Error("Analysis event should still be emitted on scoring failure")
	}
	if !sawResponse {
		t.Error("Response should still be delivered on scoring failure")
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	for _, event := range dispatcher.events {
		if event.Name != EventEmotionAnalysis {
			continue
		}
		record, ok := event.Payload["record"].(*entities.EmotionRecord)
		if !ok {
			t.Fatal("Analysis event should carry the emotion record")
		}
		if record.Sentiment != "neutral" {
			t.Errorf("Expected neutral fallback sentiment, got %s", record.Sentiment)
		}
	}
}

func TestPipelineGenerationFailure(t *testing.T) {
	stt := &fakeSTT{text: "hello", confidence: 0.9}
	generator := &fakeGenerator{err: errors.New("model overloaded")}
	pipeline, store, dispatcher, sessionID := newTestPipeline(t, stt, &fakeScorer{}, generator, PipelineOptions{})

	if _, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	pipeline.Wait()

	// One retry after the initial attempt.
	if got := generator.calls.Load(); got != 2 {
		t.Errorf("Expected 2 generation attempts, got %d", got)
	}

	for _, event := range dispatcher.names() {
		if event == EventAIResponseReady {
			t.Error("No response event should be emitted when generation fails")
		}
		if event == EventError {
			t.Error("Generation failure must not surface an error event")
		}
	}

	turns, _ := store.RecentTurns(context.Background(), sessionID, 10)
	if len(turns) != 1 || turns[0].Role != entities.TurnRoleUser {
		t.Errorf("Expected only the user turn to survive, got %d turns", len(turns))
	}
}

func TestPipelineDeduplication(t *testing.T) {
	stt := &fakeSTT{text: "once", confidence: 0.9, latency: 200 * time.Millisecond}
	pipeline, _, _, sessionID := newTestPipeline(t, stt, &fakeScorer{}, &fakeGenerator{text: "reply"}, PipelineOptions{DedupWindow: time.Hour})

	var wg sync.WaitGroup
	results := make([]*FastPathResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 1 {
				time.Sleep(10 * time.Millisecond)
			}
			result, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio"))
			if err != nil {
				t.Errorf("Process failed: %v", err)
				return
			}
			results[i] = result
		}(i)
	}
	wg.Wait()
	pipeline.Wait()

	if got := stt.calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 transcription call, got %d", got)
	}
	if results[0] == nil || results[0] != results[1] {
		t.Error("Deduplicated callers should observe the identical result")
	}
}

func TestPipelineDuplicateBurstReleasesBookkeeping(t *testing.T) {
	stt := &fakeSTT{text: "burst", confidence: 0.9, latency: 5 * time.Millisecond}
	pipeline, _, _, sessionID := newTestPipeline(t, stt, &fakeScorer{}, &fakeGenerator{text: "reply"}, PipelineOptions{
		MaxInFlight: 1,
		DedupWindow: time.Hour,
	})

	// Duplicates racing the tail of the running execution must either
	// attach to it or start a fresh one; none may leave the in-flight
	// counter marked.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio")); err != nil {
				t.Errorf("Process failed: %v", err)
			}
		}()
	}
	wg.Wait()
	pipeline.Wait()

	pipeline.mu.Lock()
	activeKeys := len(pipeline.activeKeys)
	inFlight := len(pipeline.inFlight)
	pipeline.mu.Unlock()
	if activeKeys != 0 {
		t.Errorf("Expected no active keys after the burst, got %d", activeKeys)
	}
	if inFlight != 0 {
		t.Errorf("Expected no in-flight entries after the burst, got %d", inFlight)
	}

	if _, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio")); errors.Is(err, ErrTooManyInFlight) {
		t.Fatal("Connection should accept new segments once the burst settles")
	}
	pipeline.Wait()
}

func TestPipelineTokenStreaming(t *testing.T) {
	stt := &fakeSTT{text: "stream it", confidence: 0.9}
	generator := &fakeGenerator{text: "abc", tokens: []string{"a", "b", "c"}}
	pipeline, store, dispatcher, sessionID := newTestPipeline(t, stt, &fakeScorer{}, generator, PipelineOptions{StreamTokens: true})

	if _, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	pipeline.Wait()

	var tokens []string
	dispatcher.mu.Lock()
	for _, event := range dispatcher.events {
		if event.Name == EventResponseToken {
			tokens = append(tokens, event.Payload["token"].(string))
		}
	}
	dispatcher.mu.Unlock()

	if len(tokens) != 3 || tokens[0] != "a" || tokens[1] != "b" || tokens[2] != "c" {
		t.Errorf("Expected tokens in provider-emission order [a b c], got %v", tokens)
	}

	turns, _ := store.RecentTurns(context.Background(), sessionID, 10)
	if len(turns) == 0 || turns[0].Content != "abc" {
		t.Error("Aggregated text should be what gets persisted")
	}
}

func TestPipelineInFlightCap(t *testing.T) {
	stt := &fakeSTT{text: "slow", confidence: 0.9, latency: 150 * time.Millisecond}
	pipeline, _, _, sessionID := newTestPipeline(t, stt, &fakeScorer{}, &fakeGenerator{text: "ok"}, PipelineOptions{MaxInFlight: 1, DedupWindow: time.Nanosecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio"))
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := pipeline.Process(context.Background(), "conn-1", sessionID, []byte("audio"))
	if !errors.Is(err, ErrTooManyInFlight) {
		t.Errorf("Expected ErrTooManyInFlight, got %v", err)
	}

	<-done
	pipeline.Wait()
}
