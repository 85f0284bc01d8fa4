package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/pkg/agentwire"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

// fakeRunner scripts one process run without spawning anything.
type fakeRunner struct {
	records chan *agentwire.Record
	stderr  chan string
	exited  chan error

	startErr error
	script   func(f *fakeRunner)

	mu         sync.Mutex
	interrupts int
	closed     bool
	responses  []*agentwire.ControlResponse
	respCh     chan *agentwire.ControlResponse

	finishOnce sync.Once
}

func newFakeRunner(script func(f *fakeRunner)) *fakeRunner {
	return &fakeRunner{
		records: make(chan *agentwire.Record, 32),
		stderr:  make(chan string, 8),
		exited:  make(chan error, 1),
		respCh:  make(chan *agentwire.ControlResponse, 8),
		script:  script,
	}
}

func (f *fakeRunner) Start(ctx context.Context, opts RunOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	go f.script(f)
	return nil
}

// finish ends the run: closes the output channels and reports the exit.
func (f *fakeRunner) finish(err error) {
	f.finishOnce.Do(func() {
		close(f.records)
		close(f.stderr)
		f.exited <- err
		close(f.exited)
	})
}

func (f *fakeRunner) Records() <-chan *agentwire.Record { return f.records }
func (f *fakeRunner) Stderr() <-chan string             { return f.stderr }
func (f *fakeRunner) Exited() <-chan error              { return f.exited }

func (f *fakeRunner) SendControlResponse(resp *agentwire.ControlResponse) error {
	f.mu.Lock()
	f.responses = append(f.responses, resp)
	f.mu.Unlock()
	f.respCh <- resp
	return nil
}

func (f *fakeRunner) Interrupt() error {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.finish(nil)
	return nil
}

func (f *fakeRunner) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeSessionStore is an in-memory store.Store.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	messages []*store.Message
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*store.Session)}
}

func (f *fakeSessionStore) CreateSession(_ context.Context, s *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionStore) ListSessions(_ context.Context) ([]*store.Session, error) {
	return nil, nil
}

func (f *fakeSessionStore) UpdateResumeToken(_ context.Context, id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.ResumeToken = token
	}
	return nil
}

func (f *fakeSessionStore) UpdateTeam(_ context.Context, id, team string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Team = team
	}
	return nil
}

func (f *fakeSessionStore) DeleteSession(_ context.Context, id string) error { return nil }

func (f *fakeSessionStore) AddMessage(_ context.Context, m *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeSessionStore) ListMessages(_ context.Context, sessionID string) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Agent: config.AgentConfig{BinaryPath: "claude", DefaultModel: "claude-sonnet-4-5"},
		Runner: config.RunnerConfig{
			CheckInterval:   1,
			IdleThreshold:   60,
			PostResultGrace: 5,
			PollInterval:    0, // team-mode tests poll immediately
			MaxResumeCycles: 5,
			ShutdownGrace:   1,
		},
	}
}

// newTestService wires a service with scripted runners handed out in order.
func newTestService(t *testing.T, checker WorkChecker, runners ...*fakeRunner) (*Service, *fakeSessionStore) {
	t.Helper()
	if checker == nil {
		checker = &fakeChecker{}
	}
	st := newFakeSessionStore()
	b := bus.NewMemoryEventBus(logger.Default())
	t.Cleanup(b.Close)

	svc := NewService(testConfig(), st, b, checker, logger.Default())
	var mu sync.Mutex
	next := 0
	svc.newRunner = func(string) ProcessRunner {
		mu.Lock()
		defer mu.Unlock()
		r := runners[next]
		next++
		return r
	}
	return svc, st
}

func collectEvents(t *testing.T, ch <-chan v1.Event) []v1.Event {
	t.Helper()
	var events []v1.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Type == v1.EventDone {
				// done is terminal; the channel closes right after
				for range ch {
					t.Error("event after done")
				}
				return events
			}
		case <-timeout:
			t.Fatalf("stream did not finish; got %d events", len(events))
		}
	}
}

func eventTypes(events []v1.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestStartSessionSingleTurn(t *testing.T) {
	// "hello" -> status, text, result, done
	runner := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{Type: agentwire.TypeSystem, Subtype: agentwire.SubtypeInit, SessionID: "tok-1", Model: "claude-sonnet-4-5"}
		f.records <- &agentwire.Record{Type: agentwire.TypeAssistant, Message: &agentwire.MessageBody{
			Content: []agentwire.ContentBlock{{Type: "text", Text: "hi"}},
		}}
		f.records <- &agentwire.Record{Type: agentwire.TypeResult, SessionID: "tok-1", NumTurns: 1}
		f.finish(nil)
	})
	svc, st := newTestService(t, nil, runner)

	ch, err := svc.StartSession(context.Background(), "s1", StartOptions{Instruction: "hello"})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Equal(t, []string{v1.EventStatus, v1.EventText, v1.EventResult, v1.EventDone}, eventTypes(events))

	result := events[2].Data.(v1.ResultData)
	require.False(t, result.IsError)

	// Side effects: transcript persisted, resume token stored.
	sess, err := st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", sess.ResumeToken)

	msgs, _ := st.ListMessages(context.Background(), "s1")
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, "hi", msgs[1].Content)
}

func TestStartSessionToolRoundTrip(t *testing.T) {
	runner := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{Type: agentwire.TypeSystem, Subtype: agentwire.SubtypeInit, SessionID: "tok"}
		f.records <- &agentwire.Record{Type: agentwire.TypeAssistant, Message: &agentwire.MessageBody{
			Content: []agentwire.ContentBlock{{Type: "tool_use", ID: "tu-1", Name: "Bash", Input: map[string]any{"command": "ls"}}},
		}}
		f.records <- &agentwire.Record{Type: agentwire.TypeUser, Message: &agentwire.MessageBody{
			Content: []agentwire.ContentBlock{{Type: "tool_result", ToolUseID: "tu-1", Content: json.RawMessage(`"file.go"`)}},
		}}
		f.records <- &agentwire.Record{Type: agentwire.TypeAssistant, Message: &agentwire.MessageBody{
			Content: []agentwire.ContentBlock{{Type: "text", Text: "one file"}},
		}}
		f.records <- &agentwire.Record{Type: agentwire.TypeResult, SessionID: "tok"}
		f.finish(nil)
	})
	svc, _ := newTestService(t, nil, runner)

	ch, err := svc.StartSession(context.Background(), "s1", StartOptions{Instruction: "list files"})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Equal(t,
		[]string{v1.EventStatus, v1.EventToolUse, v1.EventToolResult, v1.EventText, v1.EventResult, v1.EventDone},
		eventTypes(events))

	use := events[1].Data.(v1.ToolUseData)
	result := events[2].Data.(v1.ToolResultData)
	require.Equal(t, use.ID, result.ToolUseID)
	require.Equal(t, "file.go", result.Content)
}

func TestStartSessionSpawnFailure(t *testing.T) {
	runner := newFakeRunner(nil)
	runner.startErr = errors.New("binary not found")
	svc, _ := newTestService(t, nil, runner)

	ch, err := svc.StartSession(context.Background(), "s1", StartOptions{Instruction: "hello"})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Equal(t, []string{v1.EventError, v1.EventDone}, eventTypes(events))
	require.Contains(t, events[0].Data.(string), "binary not found")
}

func TestClientDisconnectTeardown(t *testing.T) {
	// The run pauses on a permission request; the client disconnects.
	runner := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{Type: agentwire.TypeSystem, Subtype: agentwire.SubtypeInit, SessionID: "tok"}
		f.records <- &agentwire.Record{
			Type:      agentwire.TypeControlRequest,
			RequestID: "agent-req-1",
			Request: &agentwire.ControlRequest{
				Subtype:  agentwire.SubtypeCanUseTool,
				ToolName: "Bash",
				Input:    map[string]any{"command": "rm -rf /"},
			},
		}
		// No exit until the service closes us.
	})
	svc, _ := newTestService(t, nil, runner)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := svc.StartSession(ctx, "s1", StartOptions{Instruction: "clean up"})
	require.NoError(t, err)

	// Wait for the permission request to reach the client.
	var sawPermission bool
	for ev := range ch {
		if ev.Type == v1.EventPermissionRequest {
			sawPermission = true
			break
		}
	}
	require.True(t, sawPermission)

	cancel()

	// Teardown: process closed, pending permission denied, stream ends.
	require.Eventually(t, runner.wasClosed, 5*time.Second, 10*time.Millisecond)

	select {
	case resp := <-runner.respCh:
		require.Equal(t, "agent-req-1", resp.RequestID)
		require.Equal(t, agentwire.BehaviorDeny, resp.Response.Result.Behavior)
	case <-time.After(5 * time.Second):
		t.Fatal("pending permission was not denied")
	}

	last := v1.Event{}
	for ev := range ch {
		last = ev
	}
	require.Equal(t, v1.EventDone, last.Type)
	require.Equal(t, 0, svc.Registry().Len())
}

func TestResolvePermissionForwardsDecision(t *testing.T) {
	release := make(chan struct{})
	runner := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{
			Type:      agentwire.TypeControlRequest,
			RequestID: "agent-req-7",
			Request: &agentwire.ControlRequest{
				Subtype:  agentwire.SubtypeCanUseTool,
				ToolName: "Write",
				Input:    map[string]any{"file_path": "main.go"},
			},
		}
		<-release
		f.records <- &agentwire.Record{Type: agentwire.TypeResult, SessionID: "tok"}
		f.finish(nil)
	})
	svc, _ := newTestService(t, nil, runner)

	ch, err := svc.StartSession(context.Background(), "s1", StartOptions{Instruction: "write code"})
	require.NoError(t, err)

	var reqID string
	for ev := range ch {
		if ev.Type == v1.EventPermissionRequest {
			reqID = ev.Data.(v1.PermissionRequestData).PermissionRequestID
			break
		}
	}
	require.NotEmpty(t, reqID)

	require.NoError(t, svc.ResolvePermission("s1", reqID, v1.PermissionDecision{Behavior: "allow"}))

	resp := <-runner.respCh
	require.Equal(t, "agent-req-7", resp.RequestID)
	require.Equal(t, agentwire.BehaviorAllow, resp.Response.Result.Behavior)
	require.Equal(t, map[string]any{"file_path": "main.go"}, resp.Response.Result.UpdatedInput)

	// Resolving twice fails: the entry is gone.
	require.Error(t, svc.ResolvePermission("s1", reqID, v1.PermissionDecision{Behavior: "deny"}))

	close(release)
	collectEvents(t, ch)
}

func TestTeamModeResumeCycle(t *testing.T) {
	// Run 1 captures a token; work-state reports one pending poll, then
	// none: exactly one resume cycle runs.
	run1 := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{Type: agentwire.TypeSystem, Subtype: agentwire.SubtypeInit, SessionID: "tok-1"}
		f.records <- &agentwire.Record{Type: agentwire.TypeResult, SessionID: "tok-1"}
		f.finish(nil)
	})
	run2 := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{Type: agentwire.TypeResult, SessionID: "tok-2"}
		f.finish(nil)
	})
	checker := &fakeChecker{answers: []bool{true, false}}
	svc, st := newTestService(t, checker, run1, run2)

	ch, err := svc.StartSession(context.Background(), "s1", StartOptions{Instruction: "build the team", TeamMode: true})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	types := eventTypes(events)

	// Both runs produced a result; a cycle notification sits between.
	var results, notices int
	for _, ev := range events {
		switch ev.Type {
		case v1.EventResult:
			results++
		case v1.EventStatus:
			if data, ok := ev.Data.(v1.StatusData); ok && data.Notification {
				notices++
			}
		}
	}
	require.Equal(t, 2, results, "types: %v", types)
	require.Equal(t, 1, notices)
	require.Equal(t, v1.EventDone, types[len(types)-1])

	// The token from the last run is persisted.
	sess, err := st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "tok-2", sess.ResumeToken)
}

func TestReplaceSessionClosesOldFirst(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	first := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{Type: agentwire.TypeSystem, Subtype: agentwire.SubtypeInit, SessionID: "tok"}
		<-block
	})
	second := newFakeRunner(func(f *fakeRunner) {
		f.records <- &agentwire.Record{Type: agentwire.TypeResult, SessionID: "tok"}
		f.finish(nil)
	})
	svc, _ := newTestService(t, nil, first, second)

	ch1, err := svc.StartSession(context.Background(), "s1", StartOptions{Instruction: "one"})
	require.NoError(t, err)

	// Wait for the first run to be live.
	ev := <-ch1
	require.Equal(t, v1.EventStatus, ev.Type)

	// Starting again for the same id fully closes the first stream
	// before the second run begins.
	ch2, err := svc.StartSession(context.Background(), "s1", StartOptions{Instruction: "two"})
	require.NoError(t, err)
	require.True(t, first.wasClosed())

	events := collectEvents(t, ch1)
	require.Equal(t, v1.EventDone, events[len(events)-1].Type)

	events = collectEvents(t, ch2)
	require.Equal(t, []string{v1.EventResult, v1.EventDone}, eventTypes(events))
	require.Equal(t, 0, svc.Registry().Len())
}
