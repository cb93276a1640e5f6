package websocket

import (
	"encoding/json"
	"time"
)

// Connection-level outbound event types. Pipeline events (processing,
// transcript_ready, ...) are defined next to the scheduler in usecase.
const (
	EventConnected            = "connected"
	EventSessionStarted       = "session_started"
	EventSessionEnded         = "session_ended"
	EventPong                 = "pong"
	EventConversations        = "conversations"
	EventSessionConversations = "session_conversations"
	EventSessionMetrics       = "session_metrics"
	EventSpeakers             = "speakers"
	EventSystemMetrics        = "system_metrics"
	EventError                = "error"
)

// marshalEvent builds the outbound JSON envelope. The payload keys are
// flattened next to type and timestamp, matching the inbound control
// message shape.
func marshalEvent(event string, payload map[string]interface{}) []byte {
	envelope := make(map[string]interface{}, len(payload)+2)
	for key, value := range payload {
		envelope[key] = value
	}
	envelope["type"] = event
	envelope["timestamp"] = time.Now().Format(time.RFC3339)

	data, _ := json.Marshal(envelope)
	return data
}

// ControlMessage is a small-text inbound frame. Text frames that fail to
// parse fall back to the audio path.
type ControlMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Recognized control actions.
const (
	ControlStartSession            = "start_session"
	ControlEndSession              = "end_session"
	ControlPing                    = "ping"
	ControlGetConversations        = "get_conversations"
	ControlGetSessionConversations = "get_session_conversations"
	ControlGetSessionMetrics       = "get_session_metrics"
	ControlGetSpeakers             = "get_speakers"
	ControlGetSystemMetrics        = "get_system_metrics"
)
