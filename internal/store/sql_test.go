package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/db"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	pool, err := db.OpenSQLitePool(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	s, err := NewSQLStore(context.Background(), pool)
	require.NoError(t, err)
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{WorkingDir: "/tmp/project", Model: "claude-sonnet-4-5"}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NotEmpty(t, sess.ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "/tmp/project", got.WorkingDir)
	require.Empty(t, got.ResumeToken)

	require.NoError(t, s.UpdateResumeToken(ctx, sess.ID, "tok-123"))
	require.NoError(t, s.UpdateTeam(ctx, sess.ID, "backend-crew"))

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "tok-123", got.ResumeToken)
	require.Equal(t, "backend-crew", got.Team)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.GetSession(ctx, sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.UpdateResumeToken(ctx, "missing", "tok"), ErrNotFound)
	require.ErrorIs(t, s.DeleteSession(ctx, "missing"), ErrNotFound)
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{WorkingDir: "/tmp"}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.AddMessage(ctx, &Message{SessionID: sess.ID, Role: "user", Content: "hello"}))
	require.NoError(t, s.AddMessage(ctx, &Message{SessionID: sess.ID, Role: "assistant", Content: "hi there"}))

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "user", msgs[0].Role)
	require.Equal(t, "hi there", msgs[1].Content)

	// Deleting the session removes its messages too.
	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	msgs, err = s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
