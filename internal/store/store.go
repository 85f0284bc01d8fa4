// Package store persists sessions and their transcript messages.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or message does not exist.
var ErrNotFound = errors.New("not found")

// Session is one logical conversation with the agent. It outlives any
// single process run; ResumeToken is updated every time the agent
// reports one.
type Session struct {
	ID          string    `db:"id" json:"id"`
	WorkingDir  string    `db:"working_dir" json:"working_dir"`
	Model       string    `db:"model" json:"model"`
	Team        string    `db:"team" json:"team,omitempty"`
	ResumeToken string    `db:"resume_token" json:"resume_token,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Message is one persisted transcript entry.
type Message struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store is the durable session/message repository.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	UpdateResumeToken(ctx context.Context, id, token string) error
	UpdateTeam(ctx context.Context, id, team string) error
	DeleteSession(ctx context.Context, id string) error

	AddMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)
}
