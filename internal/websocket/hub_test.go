package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/sentirelabs/sentire/adapters/memory"
	"github.com/sentirelabs/sentire/domain/entities"
	"github.com/sentirelabs/sentire/usecase"
)

type fakePipeline struct {
	mu       sync.Mutex
	requests []pipelineRequest
}

type pipelineRequest struct {
	connectionID string
	sessionID    string
	audio        []byte
}

func (f *fakePipeline) Process(ctx context.Context, connectionID, sessionID string, audio []byte) (*usecase.FastPathResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, pipelineRequest{connectionID, sessionID, audio})
	return &usecase.FastPathResult{Transcript: "ok"}, nil
}

func (f *fakePipeline) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestHub(t *testing.T) (*Hub, *fakePipeline, *memory.ConversationRepository, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	store := memory.NewConversationRepository()
	pipeline := &fakePipeline{}
	hub := NewHub(pipeline, store, mock, HubOptions{
		IdleTimeout:   time.Minute,
		SweepInterval: 10 * time.Second,
	}, zaptest.NewLogger(t))
	return hub, pipeline, store, mock
}

func addClient(hub *Hub, id string) *Client {
	client := &Client{
		hub:        hub,
		send:       make(chan WriteData, 16),
		id:         id,
		lastActive: hub.clock.Now(),
	}
	hub.mu.Lock()
	hub.clients[id] = client
	hub.mu.Unlock()
	return client
}

func TestHubRegisterUnregister(t *testing.T) {
	hub, _, _, _ := newTestHub(t)
	go hub.Run()
	defer hub.Stop()

	client := &Client{
		hub:        hub,
		send:       make(chan WriteData, 16),
		id:         "conn-1",
		lastActive: hub.clock.Now(),
	}
	hub.register <- client

	deadline := time.After(time.Second)
	for {
		connections, _, _ := hub.Stats()
		if connections == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client was not registered")
		case <-time.After(time.Millisecond):
		}
	}

	hub.unregister <- client
	deadline = time.After(time.Second)
	for {
		connections, _, _ := hub.Stats()
		if connections == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client was not unregistered")
		case <-time.After(time.Millisecond):
		}
	}

	if _, ok := <-client.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHubRegisterDeliversConnectedEvent(t *testing.T) {
	hub, _, _, _ := newTestHub(t)
	go hub.Run()
	defer hub.Stop()

	client := &Client{
		hub:        hub,
		send:       make(chan WriteData, 16),
		id:         "conn-1",
		lastActive: hub.clock.Now(),
	}
	hub.register <- client

	var frame WriteData
	select {
	case frame = <-client.send:
	case <-time.After(time.Second):
		t.Fatal("expected a connected event after registration")
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
		t.Fatalf("invalid envelope: %v", err)
	}
	if envelope["type"] != EventConnected {
		t.Errorf("expected type %q, got %v", EventConnected, envelope["type"])
	}
	if envelope["client_id"] != "conn-1" {
		t.Errorf("expected client_id conn-1, got %v", envelope["client_id"])
	}
}

func TestHubEmitDeliversEnvelope(t *testing.T) {
	hub, _, _, _ := newTestHub(t)
	client := addClient(hub, "conn-1")

	hub.Emit("conn-1", EventSessionStarted, map[string]interface{}{
		"session_id": "sess-1",
	})

	var frame WriteData
	select {
	case frame = <-client.send:
	default:
		t.Fatal("expected a frame on the send channel")
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
		t.Fatalf("invalid envelope: %v", err)
	}
	if envelope["type"] != EventSessionStarted {
		t.Errorf("expected type %q, got %v", EventSessionStarted, envelope["type"])
	}
	if envelope["session_id"] != "sess-1" {
		t.Errorf("expected session_id sess-1, got %v", envelope["session_id"])
	}
	if envelope["timestamp"] == nil {
		t.Error("expected a timestamp")
	}
}

func TestHubEmitUnknownConnection(t *testing.T) {
	hub, _, _, _ := newTestHub(t)

	// Must not panic or block.
	hub.Emit("missing", EventPong, nil)
	hub.EmitBinary("missing", []byte{1, 2, 3})
}

func TestHubEmitDropsWhenSaturated(t *testing.T) {
	hub, _, _, _ := newTestHub(t)
	client := &Client{hub: hub, send: make(chan WriteData, 1), id: "conn-1"}
	hub.mu.Lock()
	hub.clients["conn-1"] = client
	hub.mu.Unlock()

	hub.Emit("conn-1", EventPong, nil)
	hub.Emit("conn-1", EventPong, nil)

	if len(client.send) != 1 {
		t.Errorf("expected exactly 1 buffered frame, got %d", len(client.send))
	}
}

func TestHubIdleEviction(t *testing.T) {
	hub, _, _, mock := newTestHub(t)
	stale := addClient(hub, "stale")
	addClient(hub, "fresh")

	mock.Add(2 * time.Minute)
	hub.mu.RLock()
	fresh := hub.clients["fresh"]
	hub.mu.RUnlock()
	fresh.touch()

	hub.sweepIdle()

	connections, _, _ := hub.Stats()
	if connections != 1 {
		t.Fatalf("expected 1 connection after sweep, got %d", connections)
	}
	hub.mu.RLock()
	_, staleAlive := hub.clients["stale"]
	_, freshAlive := hub.clients["fresh"]
	hub.mu.RUnlock()
	if staleAlive {
		t.Error("stale connection should have been evicted")
	}
	if !freshAlive {
		t.Error("fresh connection should have survived")
	}
	if _, ok := <-stale.send; ok {
		t.Error("evicted client's send channel should be closed")
	}
}

func TestHubTeardownEndsSession(t *testing.T) {
	hub, _, store, _ := newTestHub(t)
	client := addClient(hub, "conn-1")

	session := entities.NewSession("user-1")
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	client.bindSession(session.ID)

	hub.teardown(client)

	stored, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Active {
		t.Error("session should be inactive after teardown")
	}
	if stored.EndedAt == nil {
		t.Error("session should carry an end timestamp")
	}
}

func TestHubFlushSegmentRequiresSession(t *testing.T) {
	hub, pipeline, _, _ := newTestHub(t)
	addClient(hub, "conn-1")

	hub.FlushSegment("conn-1", []byte("audio"))
	hub.FlushSegment("missing", []byte("audio"))

	time.Sleep(20 * time.Millisecond)
	if pipeline.count() != 0 {
		t.Errorf("expected no pipeline requests without a bound session, got %d", pipeline.count())
	}
}

func TestHubFlushSegmentDispatches(t *testing.T) {
	hub, pipeline, _, _ := newTestHub(t)
	client := addClient(hub, "conn-1")
	client.bindSession("sess-1")

	hub.FlushSegment("conn-1", []byte("audio"))

	deadline := time.After(time.Second)
	for pipeline.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("pipeline request never dispatched")
		case <-time.After(time.Millisecond):
		}
	}

	pipeline.mu.Lock()
	req := pipeline.requests[0]
	pipeline.mu.Unlock()
	if req.connectionID != "conn-1" || req.sessionID != "sess-1" {
		t.Errorf("unexpected request routing: %+v", req)
	}
	if string(req.audio) != "audio" {
		t.Errorf("unexpected segment payload: %q", req.audio)
	}
}

func TestHubReportMetrics(t *testing.T) {
	hub, _, store, mock := newTestHub(t)
	client := addClient(hub, "conn-1")
	client.bindSession("sess-1")
	addClient(hub, "conn-2")

	mock.Add(90 * time.Second)
	hub.reportMetrics()

	var snapshot *entities.MetricsSnapshot
	deadline := time.After(time.Second)
	for {
		var err error
		snapshot, err = store.LatestMetricsSnapshot(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if snapshot != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("snapshot never persisted")
		case <-time.After(time.Millisecond):
		}
	}

	if snapshot.Connections != 2 {
		t.Errorf("expected 2 connections, got %d", snapshot.Connections)
	}
	if snapshot.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", snapshot.ActiveSessions)
	}
	if snapshot.UptimeSeconds != 90 {
		t.Errorf("expected 90s uptime, got %d", snapshot.UptimeSeconds)
	}
}
