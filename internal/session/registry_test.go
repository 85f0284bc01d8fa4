package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

type fakeHandle struct {
	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func TestRegistryReplaceClosesOld(t *testing.T) {
	r := NewRegistry(logger.Default())

	first := &fakeHandle{}
	r.Replace("s1", first)
	require.Equal(t, 1, r.Len())

	second := &fakeHandle{}
	r.Replace("s1", second)

	// Replace returns only after the old stream is fully closed.
	require.True(t, first.isClosed())
	require.False(t, second.isClosed())
	require.Equal(t, 1, r.Len())

	got, ok := r.Get("s1")
	require.True(t, ok)
	require.Same(t, second, got.(*fakeHandle))
}

func TestRegistryRemoveOnlyCurrent(t *testing.T) {
	r := NewRegistry(logger.Default())

	first := &fakeHandle{}
	second := &fakeHandle{}
	r.Replace("s1", first)
	r.Replace("s1", second)

	// A finishing old stream must not evict its replacement.
	r.Remove("s1", first)
	_, ok := r.Get("s1")
	require.True(t, ok)

	r.Remove("s1", second)
	_, ok = r.Get("s1")
	require.False(t, ok)
}

func TestRegistryIndependentSessions(t *testing.T) {
	r := NewRegistry(logger.Default())

	a := &fakeHandle{}
	b := &fakeHandle{}
	r.Replace("a", a)
	r.Replace("b", b)
	require.Equal(t, 2, r.Len())
	require.False(t, a.isClosed())
	require.False(t, b.isClosed())

	r.CloseAll()
	require.Equal(t, 0, r.Len())
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
}
