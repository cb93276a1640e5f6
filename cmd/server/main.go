package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/sentirelabs/sentire/adapters/llm"
	"github.com/sentirelabs/sentire/adapters/memory"
	"github.com/sentirelabs/sentire/adapters/mongo"
	"github.com/sentirelabs/sentire/adapters/stt"
	"github.com/sentirelabs/sentire/adapters/tts"
	"github.com/sentirelabs/sentire/domain/repositories"
	"github.com/sentirelabs/sentire/internal/api"
	"github.com/sentirelabs/sentire/internal/config"
	"github.com/sentirelabs/sentire/internal/websocket"
	"github.com/sentirelabs/sentire/usecase"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	ctx := context.Background()

	// Storage: MongoDB when configured, in-memory otherwise
	var store repositories.ConversationRepository
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		client, err := mongo.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		mongoClient = client
		store = mongo.NewConversationRepository(client.Database)
	} else {
		logger.Warn("MONGODB_URI not set, using in-memory storage")
		store = memory.NewConversationRepository()
	}

	// Providers: real adapters when credentials are present, mocks otherwise
	var speechToText repositories.SpeechToText
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		speechToText = stt.NewGoogleSpeechToText()
	} else {
		logger.Warn("GOOGLE_APPLICATION_CREDENTIALS not set, using mock transcription")
		speechToText = stt.NewMockSpeechToText(logger)
	}

	var generator repositories.ResponseGenerator
	var scorer repositories.EmotionScorer
	if cfg.GeminiAPIKey != "" {
		var err error
		generator, err = llm.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini generator", zap.Error(err))
		}
		scorer, err = llm.NewGeminiScorer(ctx, cfg.GeminiAPIKey, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini scorer", zap.Error(err))
		}
	} else {
		logger.Warn("GEMINI_API_KEY not set, using mock generation and scoring")
		generator = llm.NewMockGenerator()
		scorer = llm.NewMockScorer()
	}

	var textToSpeech repositories.TextToSpeech
	if cfg.EnableSynthesis && cfg.ElevenLabsAPIKey != "" {
		synth, err := tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(os.Getenv), logger)
		if err != nil {
			logger.Fatal("Failed to create Eleven Labs TTS", zap.Error(err))
		}
		textToSpeech = synth
	}

	// Connection registry
	clk := clock.New()
	hub := websocket.NewHub(nil, store, clk, websocket.HubOptions{
		IdleTimeout:     cfg.IdleTimeout,
		SweepInterval:   cfg.SweepInterval,
		MetricsInterval: cfg.MetricsInterval,
	}, logger)

	// Pipeline scheduler, dispatching events back through the hub
	pipeline := usecase.NewPipelineService(
		speechToText, scorer, generator, textToSpeech, store, hub,
		usecase.PipelineOptions{
			ContextTurns:    cfg.ContextTurns,
			MaxInFlight:     cfg.MaxInFlight,
			EnableSynthesis: cfg.EnableSynthesis,
			StreamTokens:    cfg.StreamTokens,
			Audio: repositories.AudioConfig{
				SampleRate: cfg.AudioSampleRate,
				Encoding:   cfg.AudioEncoding,
				Language:   cfg.AudioLanguage,
			},
		},
		logger,
	)
	hub.SetPipeline(pipeline)

	// Chunk aggregator flushing into the pipeline via the hub
	aggregator := websocket.NewAggregator(
		clk, cfg.DebounceWindow, cfg.SegmentMaxBytes, cfg.SegmentMinBytes,
		hub.FlushSegment, logger)
	hub.SetAggregator(aggregator)

	go hub.Run()

	// HTTP surface
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	api.InitRoutes(e, hub, store, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	hub.Stop()
	pipeline.Wait()

	if mongoClient != nil {
		if err := mongoClient.Close(shutdownCtx); err != nil {
			logger.Error("Failed to close MongoDB connection", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
