package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/db"
)

// SQLStore implements Store on a db.Pool. Queries are written with `?`
// placeholders and rebound for the active driver, so the same code runs
// on SQLite and Postgres.
type SQLStore struct {
	pool *db.Pool
}

// NewSQLStore creates the repository and ensures the schema exists.
func NewSQLStore(ctx context.Context, pool *db.Pool) (*SQLStore, error) {
	s := &SQLStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			working_dir TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			team TEXT NOT NULL DEFAULT '',
			resume_token TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.pool.Writer().ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	w := s.pool.Writer()
	query := w.Rebind(`INSERT INTO sessions (id, working_dir, model, team, resume_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := w.ExecContext(ctx, query,
		sess.ID, sess.WorkingDir, sess.Model, sess.Team, sess.ResumeToken, sess.CreatedAt, sess.UpdatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	r := s.pool.Reader()
	var sess Session
	query := r.Rebind(`SELECT * FROM sessions WHERE id = ?`)
	if err := r.GetContext(ctx, &sess, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context) ([]*Session, error) {
	r := s.pool.Reader()
	sessions := []*Session{}
	if err := r.SelectContext(ctx, &sessions, `SELECT * FROM sessions ORDER BY updated_at DESC`); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SQLStore) UpdateResumeToken(ctx context.Context, id, token string) error {
	w := s.pool.Writer()
	query := w.Rebind(`UPDATE sessions SET resume_token = ?, updated_at = ? WHERE id = ?`)
	res, err := w.ExecContext(ctx, query, token, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update resume token: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLStore) UpdateTeam(ctx context.Context, id, team string) error {
	w := s.pool.Writer()
	query := w.Rebind(`UPDATE sessions SET team = ?, updated_at = ? WHERE id = ?`)
	res, err := w.ExecContext(ctx, query, team, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	w := s.pool.Writer()
	// No cascade support in every deployment target; delete children first.
	if _, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM messages WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLStore) AddMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()

	w := s.pool.Writer()
	query := w.Rebind(`INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if _, err := w.ExecContext(ctx, query, m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	r := s.pool.Reader()
	messages := []*Message{}
	query := r.Rebind(`SELECT * FROM messages WHERE session_id = ? ORDER BY created_at ASC`)
	if err := r.SelectContext(ctx, &messages, query, sessionID); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
