package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

// Broker correlates permission requests emitted mid-stream with
// decisions arriving out of band. Every registered request resolves
// exactly once, through whichever path fires first: a matching Resolve,
// the register context being cancelled, or DenyAll at teardown. A never
// resolved request would pause the agent process forever, so the three
// paths all converge on the same one-shot delivery.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingPermission
	log     *logger.Logger
}

type pendingPermission struct {
	input    map[string]any
	decision chan v1.PermissionDecision // buffered, written exactly once
	resolved chan struct{}
}

// NewBroker creates an empty broker.
func NewBroker(log *logger.Logger) *Broker {
	return &Broker{
		pending: make(map[string]*pendingPermission),
		log:     log.WithFields(zap.String("component", "permission_broker")),
	}
}

// Register creates a pending entry and returns the channel its decision
// will arrive on. If ctx is cancelled before a decision arrives, the
// entry resolves to a deny. Concurrent registrations are independent.
func (b *Broker) Register(ctx context.Context, requestID string, input map[string]any) <-chan v1.PermissionDecision {
	p := &pendingPermission{
		input:    input,
		decision: make(chan v1.PermissionDecision, 1),
		resolved: make(chan struct{}),
	}

	b.mu.Lock()
	b.pending[requestID] = p
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.Resolve(requestID, v1.PermissionDecision{Behavior: "deny", Message: "session cancelled"})
		case <-p.resolved:
		}
	}()

	return p.decision
}

// Resolve delivers a decision to a pending request. Returns false when
// the id is unknown or already resolved.
func (b *Broker) Resolve(requestID string, decision v1.PermissionDecision) bool {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	p.decision <- decision
	close(p.resolved)
	return true
}

// DenyAll resolves every outstanding request to a deny with the given
// message. Called when the process exits or the session tears down.
func (b *Broker) DenyAll(message string) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		if b.Resolve(id, v1.PermissionDecision{Behavior: "deny", Message: message}) {
			b.log.Debug("denied abandoned permission request", zap.String("request_id", id))
		}
	}
}

// Input returns the original tool input of a pending request.
func (b *Broker) Input(requestID string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[requestID]
	if !ok {
		return nil, false
	}
	return p.input, true
}

// Outstanding returns the number of unresolved requests.
func (b *Broker) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
