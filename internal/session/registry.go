package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Handle is a live session stream tracked by the registry.
type Handle interface {
	Close() error
}

// Registry maps a session id to at most one live stream. Starting a
// new stream for an id that already has one closes the old stream
// first, synchronously, so two processes never share a session id.
type Registry struct {
	mu      sync.Mutex
	streams map[string]Handle
	log     *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		streams: make(map[string]Handle),
		log:     log.WithFields(zap.String("component", "session_registry")),
	}
}

// Replace registers h for the session id, fully closing any existing
// stream first.
func (r *Registry) Replace(sessionID string, h Handle) {
	r.mu.Lock()
	old := r.streams[sessionID]
	r.streams[sessionID] = h
	r.mu.Unlock()

	if old != nil {
		r.log.Info("replacing live session stream", zap.String("session_id", sessionID))
		if err := old.Close(); err != nil {
			r.log.WithError(err).Warn("closing replaced stream", zap.String("session_id", sessionID))
		}
	}
}

// Remove deregisters h. A no-op when the id is already owned by a newer
// stream, so a finishing stream never evicts its replacement.
func (r *Registry) Remove(sessionID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams[sessionID] == h {
		delete(r.streams, sessionID)
	}
}

// Get returns the live stream for a session id, if any.
func (r *Registry) Get(sessionID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.streams[sessionID]
	return h, ok
}

// Len returns the number of live streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CloseAll closes every live stream. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	streams := make([]Handle, 0, len(r.streams))
	for _, h := range r.streams {
		streams = append(streams, h)
	}
	r.streams = make(map[string]Handle)
	r.mu.Unlock()

	for _, h := range streams {
		_ = h.Close()
	}
}
