package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sentirelabs/sentire/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Text frames above this size are treated as audio payload rather
	// than control messages.
	maxControlSize = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WriteData is a single outbound frame.
type WriteData struct {
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan WriteData

	id string

	mu         sync.RWMutex
	sessionID  string
	lastActive time.Time

	logger *zap.Logger
}

func (c *Client) boundSession() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) bindSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Client) lastActiveTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

func (c *Client) touch() {
	now := c.hub.clock.Now()
	c.mu.Lock()
	c.lastActive = now
	c.mu.Unlock()
}

// HandleWebSocket upgrades the HTTP request and registers the connection
// with the hub.
func HandleWebSocket(hub *Hub, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.Error("Failed to upgrade connection", zap.Error(err))
			return err
		}

		client := &Client{
			hub:        hub,
			conn:       conn,
			send:       make(chan WriteData, 256),
			id:         uuid.New().String(),
			lastActive: hub.clock.Now(),
			logger:     logger,
		}
		// The hub emits the connected event once the registration has
		// landed; the buffered send channel holds it until writePump runs.
		hub.register <- client

		go client.writePump()
		go client.readPump()
		return nil
	}
}

// readPump pumps messages from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Unexpected close", zap.String("connectionID", c.id), zap.Error(err))
			}
			break
		}
		c.touch()

		switch messageType {
		case websocket.BinaryMessage:
			c.hub.aggregator.Ingest(c.id, message)
		case websocket.TextMessage:
			c.handleText(message)
		}
	}
}

// handleText routes a text frame: small well-formed JSON is a control
// message, anything else is treated as audio payload.
func (c *Client) handleText(message []byte) {
	if len(message) > maxControlSize {
		c.hub.aggregator.Ingest(c.id, message)
		return
	}

	var control ControlMessage
	if err := json.Unmarshal(message, &control); err != nil || control.Type == "" {
		c.hub.aggregator.Ingest(c.id, message)
		return
	}
	c.handleControl(control)
}

func (c *Client) handleControl(control ControlMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch control.Type {
	case ControlStartSession:
		c.startSession(ctx, control)
	case ControlEndSession:
		c.closeSession(ctx)
	case ControlPing:
		c.hub.Emit(c.id, EventPong, nil)
	case ControlGetConversations:
		c.sendConversations(ctx, control)
	case ControlGetSessionConversations:
		c.sendSessionConversations(ctx, control)
	case ControlGetSessionMetrics:
		c.sendSessionMetrics(ctx, control)
	case ControlGetSpeakers:
		c.sendSpeakers(ctx)
	case ControlGetSystemMetrics:
		c.sendSystemMetrics(ctx)
	default:
		c.logger.Warn("Unknown control message",
			zap.String("connectionID", c.id),
			zap.String("type", control.Type))
	}
}

func (c *Client) startSession(ctx context.Context, control ControlMessage) {
	userID := control.UserID
	if userID == "" {
		userID = "anonymous"
	}

	session := entities.NewSession(userID)
	if err := c.hub.store.CreateSession(ctx, session); err != nil {
		c.logger.Error("Failed to create session", zap.Error(err))
		c.hub.Emit(c.id, EventError, map[string]interface{}{
			"message": "failed to start session",
		})
		return
	}

	c.bindSession(session.ID)
	c.hub.Emit(c.id, EventSessionStarted, map[string]interface{}{
		"session_id": session.ID,
		"user_id":    session.UserID,
	})
}

func (c *Client) closeSession(ctx context.Context) {
	sessionID := c.boundSession()
	if sessionID == "" {
		c.hub.Emit(c.id, EventError, map[string]interface{}{
			"message": "no active session",
		})
		return
	}

	session, err := c.hub.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		c.logger.Error("Failed to load session", zap.String("sessionID", sessionID), zap.Error(err))
	} else {
		session.End()
		if err := c.hub.store.UpdateSession(ctx, session); err != nil {
			c.logger.Error("Failed to end session", zap.String("sessionID", sessionID), zap.Error(err))
		}
	}

	c.bindSession("")
	c.hub.Emit(c.id, EventSessionEnded, map[string]interface{}{
		"session_id": sessionID,
	})
}

func (c *Client) sendConversations(ctx context.Context, control ControlMessage) {
	limit := control.Limit
	if limit <= 0 {
		limit = 50
	}

	turns, err := c.hub.store.ListTurns(ctx, limit)
	if err != nil {
		c.logger.Error("Failed to list turns", zap.Error(err))
		return
	}
	c.hub.Emit(c.id, EventConversations, map[string]interface{}{
		"conversations": turns,
		"count":         len(turns),
	})
}

func (c *Client) sendSessionConversations(ctx context.Context, control ControlMessage) {
	sessionID := control.SessionID
	if sessionID == "" {
		sessionID = c.boundSession()
	}
	if sessionID == "" {
		c.hub.Emit(c.id, EventError, map[string]interface{}{
			"message": "session_id required",
		})
		return
	}

	limit := control.Limit
	if limit <= 0 {
		limit = 100
	}

	turns, err := c.hub.store.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		c.logger.Error("Failed to list session turns", zap.String("sessionID", sessionID), zap.Error(err))
		return
	}
	c.hub.Emit(c.id, EventSessionConversations, map[string]interface{}{
		"session_id":    sessionID,
		"conversations": turns,
		"count":         len(turns),
	})
}

func (c *Client) sendSessionMetrics(ctx context.Context, control ControlMessage) {
	sessionID := control.SessionID
	if sessionID == "" {
		sessionID = c.boundSession()
	}
	if sessionID == "" {
		c.hub.Emit(c.id, EventError, map[string]interface{}{
			"message": "session_id required",
		})
		return
	}

	metrics, err := c.hub.store.SessionMetrics(ctx, sessionID)
	if err != nil {
		c.logger.Error("Failed to compute session metrics", zap.String("sessionID", sessionID), zap.Error(err))
		return
	}
	c.hub.Emit(c.id, EventSessionMetrics, map[string]interface{}{
		"session_id": sessionID,
		"metrics":    metrics,
	})
}

func (c *Client) sendSpeakers(ctx context.Context) {
	speakers, err := c.hub.store.ListSpeakers(ctx)
	if err != nil {
		c.logger.Error("Failed to list speakers", zap.Error(err))
		return
	}
	c.hub.Emit(c.id, EventSpeakers, map[string]interface{}{
		"speakers": speakers,
		"count":    len(speakers),
	})
}

func (c *Client) sendSystemMetrics(ctx context.Context) {
	connections, activeSessions, uptime := c.hub.Stats()
	payload := map[string]interface{}{
		"connections":     connections,
		"active_sessions": activeSessions,
		"uptime_seconds":  int64(uptime.Seconds()),
	}

	snapshot, err := c.hub.store.LatestMetricsSnapshot(ctx)
	if err != nil {
		c.logger.Error("Failed to load metrics snapshot", zap.Error(err))
	} else if snapshot != nil {
		payload["last_snapshot"] = snapshot
	}

	c.hub.Emit(c.id, EventSystemMetrics, payload)
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(frame.Type, frame.Payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
