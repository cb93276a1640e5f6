package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/domain/repositories"
)

// Outbound pipeline events, in causal order.
const (
	EventProcessing      = "processing"
	EventTranscriptReady = "transcript_ready"
	EventResponseToken   = "response_token"
	EventEmotionAnalysis = "emotion_analysis_complete"
	EventAIResponseReady = "ai_response_ready"
	EventError           = "error"
)

var (
	// ErrEmptyTranscript terminates a request whose transcription came back
	// empty or whitespace-only.
	ErrEmptyTranscript = errors.New("empty transcript")

	// ErrTooManyInFlight is returned when a connection already has the
	// maximum number of pipeline executions running.
	ErrTooManyInFlight = errors.New("too many in-flight requests")
)

// EventDispatcher delivers outbound events to a connection. Delivery is
// best-effort: dispatchers drop events for closed connections.
type EventDispatcher interface {
	Emit(connectionID string, event string, payload map[string]interface{})
	EmitBinary(connectionID string, data []byte)
}

// PipelineOptions tunes the scheduler.
type PipelineOptions struct {
	// ContextTurns bounds how much session history feeds generation.
	ContextTurns int
	// MaxInFlight caps concurrent executions per connection; segments
	// beyond the cap are dropped.
	MaxInFlight int
	// DedupWindow is the coarse time window of the deduplication key.
	DedupWindow time.Duration
	// EnableSynthesis runs text-to-speech after generation.
	EnableSynthesis bool
	// StreamTokens forwards generation increments as response_token events.
	StreamTokens bool

	TranscribeTimeout time.Duration
	AnalysisTimeout   time.Duration
	SynthesisTimeout  time.Duration

	Audio repositories.AudioConfig
}

func (o *PipelineOptions) applyDefaults() {
	if o.ContextTurns == 0 {
		o.ContextTurns = 10
	}
	if o.MaxInFlight == 0 {
		o.MaxInFlight = 2
	}
	if o.DedupWindow == 0 {
		o.DedupWindow = 2 * time.Second
	}
	if o.TranscribeTimeout == 0 {
		o.TranscribeTimeout = 15 * time.Second
	}
	if o.AnalysisTimeout == 0 {
		o.AnalysisTimeout = 30 * time.Second
	}
	if o.SynthesisTimeout == 0 {
		o.SynthesisTimeout = 60 * time.Second
	}
}

// FastPathResult is what the fast path delivers; deduplicated callers for
// the same key observe the same result value.
type FastPathResult struct {
	TurnID     string
	Transcript string
	Confidence float64
}

// PipelineService orchestrates the two-speed processing of a flushed audio
// segment: an eager fast path (transcription) and a fire-and-forget
// background path (scoring, generation, optional synthesis, persistence).
type PipelineService struct {
	stt        repositories.SpeechToText
	scorer     repositories.EmotionScorer
	generator  repositories.ResponseGenerator
	tts        repositories.TextToSpeech
	store      repositories.ConversationRepository
	dispatcher EventDispatcher
	logger     *zap.Logger
	opts       PipelineOptions

	group      singleflight.Group
	mu         sync.Mutex
	activeKeys map[string]bool
	inFlight   map[string]int

	background sync.WaitGroup
}

// NewPipelineService creates a new pipeline scheduler. tts may be nil when
// synthesis is disabled.
func NewPipelineService(
	stt repositories.SpeechToText,
	scorer repositories.EmotionScorer,
	generator repositories.ResponseGenerator,
	tts repositories.TextToSpeech,
	store repositories.ConversationRepository,
	dispatcher EventDispatcher,
	opts PipelineOptions,
	logger *zap.Logger,
) *PipelineService {
	opts.applyDefaults()
	return &PipelineService{
		stt:        stt,
		scorer:     scorer,
		generator:  generator,
		tts:        tts,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		activeKeys: make(map[string]bool),
		inFlight:   make(map[string]int),
	}
}

// DedupKey derives the deduplication key for a flush: session identifier
// plus a coarse time window, so a flush and a racing duplicate collapse
// into one execution.
func (s *PipelineService) DedupKey(sessionID string, at time.Time) string {
	window := at.UnixNano() / int64(s.opts.DedupWindow)
	return fmt.Sprintf("%s:%d", sessionID, window)
}

// Process runs the pipeline for one flushed segment. It returns when the
// fast path has settled; background work continues independently.
// Concurrent calls with the same deduplication key attach to the running
// execution and observe its result.
func (s *PipelineService) Process(ctx context.Context, connectionID, sessionID string, audio []byte) (*FastPathResult, error) {
	key := s.DedupKey(sessionID, time.Now())

	// The attach-or-start decision and singleflight's call registration
	// happen under the same mutex, and the factory's cleanup pairs Forget
	// with the bookkeeping removal the same way. A caller that finds the
	// key free therefore always starts a fresh execution; attaching to a
	// call whose bookkeeping is already gone cannot happen.
	s.mu.Lock()
	if !s.activeKeys[key] {
		if s.inFlight[connectionID] >= s.opts.MaxInFlight {
			s.mu.Unlock()
			s.logger.Warn("Dropping segment, connection at in-flight cap",
				zap.String("connectionID", connectionID),
				zap.Int("cap", s.opts.MaxInFlight))
			return nil, ErrTooManyInFlight
		}
		s.activeKeys[key] = true
		s.inFlight[connectionID]++
	}
	ch := s.group.DoChan(key, func() (interface{}, error) {
		defer func() {
			s.mu.Lock()
			s.group.Forget(key)
			delete(s.activeKeys, key)
			s.inFlight[connectionID]--
			if s.inFlight[connectionID] <= 0 {
				delete(s.inFlight, connectionID)
			}
			s.mu.Unlock()
		}()
		return s.runFastPath(ctx, connectionID, sessionID, audio)
	})
	s.mu.Unlock()

	result := <-ch
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Val.(*FastPathResult), nil
}

// runFastPath is the latency-critical stage: transcribe, persist the user
// turn, emit transcript_ready, then hand off to the background path.
func (s *PipelineService) runFastPath(ctx context.Context, connectionID, sessionID string, audio []byte) (*FastPathResult, error) {
	startedAt := time.Now()
	s.dispatcher.Emit(connectionID, EventProcessing, map[string]interface{}{
		"session_id": sessionID,
	})

	transcribeCtx, cancel := context.WithTimeout(ctx, s.opts.TranscribeTimeout)
	defer cancel()

	transcription, err := s.stt.Transcribe(transcribeCtx, audio, s.opts.Audio)
	if err != nil {
		s.logger.Error("Transcription failed",
			zap.String("connectionID", connectionID),
			zap.String("sessionID", sessionID),
			zap.Error(err))
		s.dispatcher.Emit(connectionID, EventError, map[string]interface{}{
			"message": "transcription failed",
		})
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcription.Text) == "" {
		s.dispatcher.Emit(connectionID, EventError, map[string]interface{}{
			"message": "no speech detected",
		})
		return nil, ErrEmptyTranscript
	}

	confidence := transcription.Confidence
	userTurn := &entities.Turn{
		SessionID:  sessionID,
		Role:       entities.TurnRoleUser,
		Content:    transcription.Text,
		Confidence: &confidence,
		CreatedAt:  time.Now(),
	}

	// Persisted before transcript_ready so the turn exists for any
	// concurrent metrics read. A write failure here degrades to an
	// in-memory turn; the transcript is still delivered.
	if err := s.store.CreateTurn(ctx, userTurn); err != nil {
		s.logger.Error("Failed to persist user turn",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	} else {
		s.bumpSession(ctx, sessionID)
	}

	s.dispatcher.Emit(connectionID, EventTranscriptReady, map[string]interface{}{
		"transcript": transcription.Text,
		"confidence": transcription.Confidence,
	})

	s.background.Add(1)
	go s.runBackground(connectionID, sessionID, userTurn, startedAt)

	return &FastPathResult{
		TurnID:     userTurn.ID,
		Transcript: transcription.Text,
		Confidence: transcription.Confidence,
	}, nil
}

// runBackground executes the deep-analysis path. It is never cancelled by
// connection teardown; its context is detached from the caller's. Failures
// after the transcript has been delivered degrade rather than abort.
func (s *PipelineService) runBackground(connectionID, sessionID string, userTurn *entities.Turn, startedAt time.Time) {
	defer s.background.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Background path panicked",
				zap.String("sessionID", sessionID),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.AnalysisTimeout)
	defer cancel()

	history := s.sessionContext(ctx, sessionID, userTurn)

	var (
		record     *entities.EmotionRecord
		generation repositories.Generation
		genErr     error
	)

	// Scoring and generation are independent of each other; run both
	// concurrently. Only generation failure is terminal for the response.
	var group errgroup.Group
	group.Go(func() error {
		scored, err := s.scorer.Score(ctx, userTurn.Content)
		if err != nil {
			s.logger.Warn("Scoring failed, using neutral fallback",
				zap.String("sessionID", sessionID),
				zap.Error(err))
			scored = entities.NeutralEmotionRecord(sessionID, userTurn.ID)
		}
		record = scored
		return nil
	})
	group.Go(func() error {
		var onToken func(string)
		if s.opts.StreamTokens {
			onToken = func(token string) {
				s.dispatcher.Emit(connectionID, EventResponseToken, map[string]interface{}{
					"token": token,
				})
			}
		}
		generation, genErr = s.generator.Generate(ctx, userTurn.Content, history, onToken)
		if genErr != nil {
			// Retry once before giving up on the response.
			generation, genErr = s.generator.Generate(ctx, userTurn.Content, history, onToken)
		}
		return nil
	})
	_ = group.Wait()

	record.TurnID = userTurn.ID
	record.SessionID = sessionID
	if err := s.store.CreateEmotionRecord(ctx, record); err != nil {
		s.logger.Error("Failed to persist emotion record",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}

	s.dispatcher.Emit(connectionID, EventEmotionAnalysis, map[string]interface{}{
		"record": record,
	})

	if genErr != nil {
		s.logger.Error("Generation failed, no response delivered",
			zap.String("sessionID", sessionID),
			zap.Error(genErr))
		return
	}

	if s.opts.EnableSynthesis && s.tts != nil {
		s.synthesize(connectionID, generation.Text)
	}

	processingTime := time.Since(startedAt).Milliseconds()
	model := generation.Model
	// The user turn is already written by the time scoring finishes, so
	// the detected label lands on the assistant turn it responds with.
	emotion := record.DominantEmotion
	assistantTurn := &entities.Turn{
		SessionID:        sessionID,
		Role:             entities.TurnRoleAssistant,
		Content:          generation.Text,
		Emotion:          &emotion,
		ProcessingTimeMs: &processingTime,
		Model:            &model,
		CreatedAt:        time.Now(),
	}
	if err := s.store.CreateTurn(ctx, assistantTurn); err != nil {
		s.logger.Error("Failed to persist assistant turn",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	} else {
		s.bumpSession(ctx, sessionID)
	}

	s.dispatcher.Emit(connectionID, EventAIResponseReady, map[string]interface{}{
		"text":            generation.Text,
		"model":           generation.Model,
		"processing_time": processingTime,
	})
}

// sessionContext fetches the last turns of the session in chronological
// order, excluding the turn currently being processed.
func (s *PipelineService) sessionContext(ctx context.Context, sessionID string, current *entities.Turn) []entities.Turn {
	recent, err := s.store.RecentTurns(ctx, sessionID, s.opts.ContextTurns)
	if err != nil {
		s.logger.Warn("Failed to fetch session context",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return nil
	}

	history := make([]entities.Turn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if current.ID != "" && recent[i].ID == current.ID {
			continue
		}
		history = append(history, recent[i])
	}
	return history
}

// synthesize streams synthesized audio to the connection. Failures are
// non-fatal; the text response is still delivered.
func (s *PipelineService) synthesize(connectionID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SynthesisTimeout)
	defer cancel()

	audioChan, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		s.logger.Warn("Synthesis failed, delivering text only",
			zap.String("connectionID", connectionID),
			zap.Error(err))
		return
	}

	for chunk := range audioChan {
		s.dispatcher.EmitBinary(connectionID, chunk)
	}
}

// bumpSession increments the session message counter. Best-effort.
func (s *PipelineService) bumpSession(ctx context.Context, sessionID string) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return
	}
	session.RecordTurn()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		s.logger.Warn("Failed to update session counter",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}
}

// Wait blocks until all background-path work has finished. Used by tests
// and graceful shutdown.
func (s *PipelineService) Wait() {
	s.background.Wait()
}
