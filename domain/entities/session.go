package entities

import (
	"errors"
	"time"
)

// Session is a logical conversation scope. One session is active per
// connection at a time. Sessions are never deleted, only marked inactive.
type Session struct {
	ID           string     `json:"id" bson:"_id,omitempty"`
	UserID       string     `json:"user_id,omitempty" bson:"user_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	MessageCount int        `json:"message_count" bson:"message_count"`
	Active       bool       `json:"active" bson:"active"`
}

// NewSession creates an active session, optionally bound to a user.
func NewSession(userID string) *Session {
	return &Session{
		UserID:    userID,
		CreatedAt: time.Now(),
		Active:    true,
	}
}

// RecordTurn increments the message counter for a newly persisted turn.
func (s *Session) RecordTurn() {
	s.MessageCount++
}

// End marks the session inactive. Ending an already-ended session is a
// no-op so teardown paths can call it unconditionally.
func (s *Session) End() {
	if !s.Active {
		return
	}
	now := time.Now()
	s.Active = false
	s.EndedAt = &now
}

// Validate validates the session data.
func (s *Session) Validate() error {
	if s.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	if !s.Active && s.EndedAt == nil {
		return errors.New("inactive session must have ended_at")
	}
	return nil
}
