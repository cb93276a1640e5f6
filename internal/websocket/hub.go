package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/domain/repositories"
	"github.com/sentirelabs/sentire/usecase"
)

// VoicePipeline is the slice of the pipeline scheduler the hub needs.
type VoicePipeline interface {
	Process(ctx context.Context, connectionID, sessionID string, audio []byte) (*usecase.FastPathResult, error)
}

// HubOptions tunes the connection registry.
type HubOptions struct {
	// IdleTimeout is how long a connection may stay silent before the
	// sweeper evicts it.
	IdleTimeout time.Duration
	// SweepInterval is the eviction sweep period.
	SweepInterval time.Duration
	// MetricsInterval is the period of aggregate metrics snapshots.
	MetricsInterval time.Duration
}

func (o *HubOptions) applyDefaults() {
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.MetricsInterval == 0 {
		o.MetricsInterval = time.Minute
	}
}

// Hub is the connection registry: it owns the set of live connections,
// dispatches outbound events, evicts idle connections, and reports
// aggregate metrics to the store.
type Hub struct {
	// Registered clients keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	pipeline   VoicePipeline
	aggregator *Aggregator
	store      repositories.ConversationRepository

	clock     clock.Clock
	startedAt time.Time
	opts      HubOptions

	stopChan chan struct{}
	stopOnce sync.Once

	logger *zap.Logger
}

// NewHub creates the connection registry. The aggregator is constructed by
// the caller and wired to flush into the hub via FlushSegment.
func NewHub(
	pipeline VoicePipeline,
	store repositories.ConversationRepository,
	clk clock.Clock,
	opts HubOptions,
	logger *zap.Logger,
) *Hub {
	opts.applyDefaults()
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		pipeline:   pipeline,
		store:      store,
		clock:      clk,
		startedAt:  clk.Now(),
		opts:       opts,
		stopChan:   make(chan struct{}),
		logger:     logger,
	}
}

// SetAggregator wires the chunk aggregator. Must be called before Run.
func (h *Hub) SetAggregator(aggregator *Aggregator) {
	h.aggregator = aggregator
}

// SetPipeline wires the pipeline scheduler. The hub and pipeline reference
// each other, so one side is attached after construction. Must be called
// before Run.
func (h *Hub) SetPipeline(pipeline VoicePipeline) {
	h.pipeline = pipeline
}

// Run starts the hub's main loop: registration, idle sweeping, and
// periodic metrics reporting.
func (h *Hub) Run() {
	sweep := h.clock.Ticker(h.opts.SweepInterval)
	defer sweep.Stop()
	metrics := h.clock.Ticker(h.opts.MetricsInterval)
	defer metrics.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("connectionID", client.id))
			// Emitted here, after the map insert, so the event cannot race
			// the registration and get dropped.
			h.Emit(client.id, EventConnected, map[string]interface{}{
				"client_id": client.id,
			})

		case client := <-h.unregister:
			h.teardown(client)

		case <-sweep.C:
			h.sweepIdle()

		case <-metrics.C:
			h.reportMetrics()

		case <-h.stopChan:
			return
		}
	}
}

// Stop terminates the hub loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// teardown removes a connection: pending debounce timer cancelled, partial
// segment discarded, bound session ended. Already-dispatched background
// work is left alone.
func (h *Hub) teardown(client *Client) {
	h.mu.Lock()
	registered, ok := h.clients[client.id]
	if !ok || registered != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	close(client.send)
	h.mu.Unlock()

	if h.aggregator != nil {
		h.aggregator.Cancel(client.id)
	}
	h.endSession(client)

	h.logger.Info("Client unregistered", zap.String("connectionID", client.id))
}

// sweepIdle evicts connections silent for longer than the idle threshold.
func (h *Hub) sweepIdle() {
	cutoff := h.clock.Now().Add(-h.opts.IdleTimeout)

	h.mu.RLock()
	var idle []*Client
	for _, client := range h.clients {
		if client.lastActiveTime().Before(cutoff) {
			idle = append(idle, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range idle {
		h.logger.Info("Evicting idle connection",
			zap.String("connectionID", client.id))
		if client.conn != nil {
			client.conn.Close()
		}
		h.teardown(client)
	}
}

// endSession ends the client's bound session, if any. Best-effort.
func (h *Hub) endSession(client *Client) {
	sessionID := client.boundSession()
	if sessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		if err != nil {
			h.logger.Error("Failed to load session for teardown",
				zap.String("sessionID", sessionID),
				zap.Error(err))
		}
		return
	}
	session.End()
	if err := h.store.UpdateSession(ctx, session); err != nil {
		h.logger.Error("Failed to end session on teardown",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}
}

// reportMetrics writes an aggregate snapshot to the store. Non-blocking
// for the registry; failures are logged only.
func (h *Hub) reportMetrics() {
	connections, activeSessions := h.counts()
	snapshot := &entities.MetricsSnapshot{
		Connections:    connections,
		ActiveSessions: activeSessions,
		UptimeSeconds:  int64(h.clock.Now().Sub(h.startedAt).Seconds()),
		CreatedAt:      h.clock.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.SaveMetricsSnapshot(ctx, snapshot); err != nil {
			h.logger.Error("Failed to save metrics snapshot", zap.Error(err))
		}
	}()
}

func (h *Hub) counts() (connections, activeSessions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	connections = len(h.clients)
	for _, client := range h.clients {
		if client.boundSession() != "" {
			activeSessions++
		}
	}
	return connections, activeSessions
}

// Stats exposes registry aggregates for the status endpoint.
func (h *Hub) Stats() (connections, activeSessions int, uptime time.Duration) {
	connections, activeSessions = h.counts()
	uptime = h.clock.Now().Sub(h.startedAt)
	return connections, activeSessions, uptime
}

// Emit implements usecase.EventDispatcher. Events are delivered to the
// connection's outbound channel in call order and silently dropped when
// the connection is gone or its channel is saturated.
func (h *Hub) Emit(connectionID string, event string, payload map[string]interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return
	}

	select {
	case client.send <- WriteData{Type: websocket.TextMessage, Payload: marshalEvent(event, payload)}:
	default:
		h.logger.Warn("Dropping event, outbound channel saturated",
			zap.String("connectionID", connectionID),
			zap.String("event", event))
	}
}

// EmitBinary implements usecase.EventDispatcher for synthesized audio.
func (h *Hub) EmitBinary(connectionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return
	}

	select {
	case client.send <- WriteData{Type: websocket.BinaryMessage, Payload: data}:
	default:
		h.logger.Warn("Dropping audio chunk, outbound channel saturated",
			zap.String("connectionID", connectionID))
	}
}

// FlushSegment is the aggregator's flush sink: it resolves the connection's
// bound session and hands the segment to the pipeline without blocking the
// intake path.
func (h *Hub) FlushSegment(connectionID string, segment []byte) {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	sessionID := client.boundSession()
	if sessionID == "" {
		h.logger.Warn("Discarding segment, no active session",
			zap.String("connectionID", connectionID),
			zap.Int("size", len(segment)))
		return
	}

	go func() {
		if _, err := h.pipeline.Process(context.Background(), connectionID, sessionID, segment); err != nil {
			h.logger.Debug("Pipeline request did not complete",
				zap.String("connectionID", connectionID),
				zap.Error(err))
		}
	}()
}
