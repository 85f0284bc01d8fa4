// Package session implements the streaming orchestration layer: it
// launches and supervises agent CLI processes, decodes their output
// into client events, brokers permission prompts, watches for stalls,
// and drives the team-mode resume loop.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/common/tracing"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/pkg/agentwire"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

// ErrNoActiveSession is returned when a control or permission call
// targets a session without a live stream.
var ErrNoActiveSession = errors.New("no active session stream")

// StartOptions configures a session stream.
type StartOptions struct {
	Instruction string
	WorkingDir  string
	Model       string
	ResumeToken string
	TeamMode    bool
}

// Service is the outward-facing session façade. It owns the registry of
// live streams and wires runner, translator, watchdog, broker, and
// resume controller together per stream.
type Service struct {
	cfg      *config.Config
	store    store.Store
	bus      bus.EventBus
	work     WorkChecker
	registry *Registry
	log      *logger.Logger

	// newRunner is swapped out in tests.
	newRunner func(sessionID string) ProcessRunner
}

// NewService creates the session service.
func NewService(cfg *config.Config, st store.Store, b bus.EventBus, work WorkChecker, log *logger.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		store:    st,
		bus:      b,
		work:     work,
		registry: NewRegistry(log),
		log:      log.WithFields(zap.String("component", "session_service")),
	}
	s.newRunner = func(sessionID string) ProcessRunner {
		return NewRunner(sessionID, cfg.Agent, cfg.Runner.ShutdownGraceDuration(), log)
	}
	return s
}

// Registry exposes the live-stream registry, mainly for shutdown.
func (s *Service) Registry() *Registry { return s.registry }

// stream is one live session stream: the unit the registry tracks and
// the owner of the client event channel. All exit paths converge on the
// run goroutine's teardown, which always ends the channel with done.
type stream struct {
	sessionID string
	events    chan v1.Event
	broker    *Broker
	cancel    context.CancelFunc
	finished  chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	runner ProcessRunner

	// emu guards closed and the final close of events against
	// concurrent tryEmit calls from bus subscription handlers.
	emu    sync.Mutex
	closed bool
}

// Close cancels the stream and waits for teardown to complete.
// Idempotent; concurrent callers all block until the stream is done.
func (st *stream) Close() error {
	st.closeOnce.Do(func() { st.cancel() })
	<-st.finished
	return nil
}

// emit delivers an event unless the stream is cancelled. Only callers
// that are guaranteed to finish before finish() runs may use it.
func (st *stream) emit(ctx context.Context, ev v1.Event) bool {
	select {
	case st.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// tryEmit is the non-blocking variant for asynchronous callers (bus
// subscription handlers) that may race with teardown.
func (st *stream) tryEmit(ev v1.Event) bool {
	st.emu.Lock()
	defer st.emu.Unlock()
	if st.closed {
		return false
	}
	select {
	case st.events <- ev:
		return true
	default:
		return false
	}
}

// finish delivers the terminal done event and closes the channel.
func (st *stream) finish(ctx context.Context) {
	st.emu.Lock()
	defer st.emu.Unlock()
	if st.closed {
		return
	}
	select {
	case st.events <- v1.NewDoneEvent():
	case <-ctx.Done():
		// Client gone; deliver done only if the buffer has room.
		select {
		case st.events <- v1.NewDoneEvent():
		default:
		}
	}
	st.closed = true
	close(st.events)
}

func (st *stream) setRunner(r ProcessRunner) {
	st.mu.Lock()
	st.runner = r
	st.mu.Unlock()
}

func (st *stream) currentRunner() ProcessRunner {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.runner
}

// StartSession starts (or replaces) the stream for a session id and
// returns its event channel. The channel always terminates with a done
// event. Cancelling ctx is the client-disconnect signal and triggers
// the full teardown.
func (s *Service) StartSession(ctx context.Context, sessionID string, opts StartOptions) (<-chan v1.Event, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		sess = &store.Session{ID: sessionID, WorkingDir: opts.WorkingDir, Model: opts.Model}
		if err := s.store.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if opts.WorkingDir == "" {
		opts.WorkingDir = sess.WorkingDir
	}
	if opts.Model == "" {
		opts.Model = sess.Model
	}
	if opts.Model == "" {
		opts.Model = s.cfg.Agent.DefaultModel
	}
	if opts.ResumeToken == "" {
		opts.ResumeToken = sess.ResumeToken
	}

	runCtx, cancel := context.WithCancel(ctx)
	st := &stream{
		sessionID: sessionID,
		events:    make(chan v1.Event, 256),
		broker:    NewBroker(s.log),
		cancel:    cancel,
		finished:  make(chan struct{}),
	}

	// Replace fully closes any previous stream for this id before the
	// new run starts.
	s.registry.Replace(sessionID, st)

	go s.run(runCtx, st, sess, opts)
	return st.events, nil
}

// ResolvePermission delivers a client decision to a pending permission
// request on a live stream.
func (s *Service) ResolvePermission(sessionID, requestID string, decision v1.PermissionDecision) error {
	h, ok := s.registry.Get(sessionID)
	if !ok {
		return ErrNoActiveSession
	}
	st := h.(*stream)
	if !st.broker.Resolve(requestID, decision) {
		return fmt.Errorf("unknown permission request %q", requestID)
	}
	return nil
}

// Control applies an interrupt or close action to a live stream.
func (s *Service) Control(sessionID, action string) error {
	h, ok := s.registry.Get(sessionID)
	if !ok {
		return ErrNoActiveSession
	}
	st := h.(*stream)

	switch action {
	case "interrupt":
		if r := st.currentRunner(); r != nil {
			return r.Interrupt()
		}
		return nil
	case "close":
		return st.Close()
	default:
		return fmt.Errorf("unknown control action %q", action)
	}
}

// run drives a stream from the initial process run through the resume
// loop to teardown. It is the single goroutine that writes st.events.
func (s *Service) run(ctx context.Context, st *stream, sess *store.Session, opts StartOptions) {
	log := s.log.WithSessionID(sess.ID)
	team := sess.Team

	defer func() {
		// Single teardown routine for every exit path.
		st.broker.DenyAll("session closed")
		if r := st.currentRunner(); r != nil {
			_ = r.Close()
		}
		st.finish(ctx)
		s.registry.Remove(sess.ID, st)
		close(st.finished)
		s.publish(bus.SessionSubject(sess.ID, bus.SubjectSessionCompleted), map[string]interface{}{
			"session_id": sess.ID,
		})
		log.Info("session stream closed")
	}()

	s.publish(bus.SessionSubject(sess.ID, bus.SubjectSessionStarted), map[string]interface{}{
		"session_id": sess.ID,
		"team_mode":  opts.TeamMode,
	})

	pctx := context.WithoutCancel(ctx)
	if opts.Instruction != "" {
		if err := s.store.AddMessage(pctx, &store.Message{SessionID: sess.ID, Role: "user", Content: opts.Instruction}); err != nil {
			log.WithError(err).Warn("persist user message")
		}
	}

	// Forward team work-state changes as task notifications. The team
	// may only become known mid-run, so subscription is lazy.
	var workSub bus.Subscription
	defer func() {
		if workSub != nil {
			_ = workSub.Unsubscribe()
		}
	}()
	subscribeTeam := func(name string) {
		if workSub != nil || name == "" {
			return
		}
		sub, err := s.bus.Subscribe(bus.WorkstateSubject(name), func(_ context.Context, e *bus.Event) error {
			st.tryEmit(v1.Event{Type: v1.EventTaskNotification, Data: v1.TaskNotificationData{
				TaskID:  asString(e.Data["task_id"]),
				Status:  asString(e.Data["status"]),
				Summary: asString(e.Data["summary"]),
			}})
			return nil
		})
		if err != nil {
			log.WithError(err).Warn("subscribe to workstate changes")
			return
		}
		workSub = sub
	}
	subscribeTeam(team)

	token, captured, runErr := s.runOnce(ctx, st, sess, opts.Instruction, opts.ResumeToken, opts, 0)
	if captured != "" && team == "" {
		team = captured
		if err := s.store.UpdateTeam(pctx, sess.ID, team); err != nil {
			log.WithError(err).Warn("persist team name")
		}
		subscribeTeam(team)
	}
	if runErr != nil {
		st.emit(ctx, v1.NewErrorEvent(runErr.Error()))
		return
	}
	if ctx.Err() != nil || !opts.TeamMode || token == "" {
		return
	}

	controller := NewResumeController(s.work, s.cfg.Runner.PollIntervalDuration(), s.cfg.Runner.MaxResumeCycles, s.log.WithSessionID(sess.ID))
	cycle := 0
	controller.OnCycleStart(func(n int) {
		cycle = n
		st.emit(ctx, v1.NewStatusNotification("Resuming work",
			fmt.Sprintf("Continuing with pending team tasks (cycle %d)", n)))
		s.publish(bus.SessionSubject(sess.ID, bus.SubjectSessionCycle), map[string]interface{}{
			"session_id": sess.ID,
			"cycle":      n,
		})
	})

	_, loopErr := controller.Loop(ctx, team, token, func(ctx context.Context, instruction, resumeToken string) (string, error) {
		newToken, _, err := s.runOnce(ctx, st, sess, instruction, resumeToken, opts, cycle)
		return newToken, err
	})
	if loopErr != nil {
		st.emit(ctx, v1.NewErrorEvent(loopErr.Error()))
	}
}

// runOnce executes one full agent process run, relaying its events.
// Returns the resume token and team name captured during the run. A
// cancelled context is not an error; the runner is closed and the
// caller proceeds to teardown.
func (s *Service) runOnce(ctx context.Context, st *stream, sess *store.Session, instruction, resumeToken string, opts StartOptions, cycle int) (string, string, error) {
	log := s.log.WithSessionID(sess.ID)
	ctx, span := tracing.TraceSessionRun(ctx, sess.ID, cycle)
	defer span.End()

	runner := s.newRunner(sess.ID)
	st.setRunner(runner)

	if err := runner.Start(ctx, RunOptions{
		Instruction: instruction,
		WorkingDir:  opts.WorkingDir,
		Model:       opts.Model,
		ResumeToken: resumeToken,
	}); err != nil {
		tracing.TraceSessionRunResult(span, true, 0, err)
		return resumeToken, "", fmt.Errorf("failed to start agent process: %w", err)
	}

	tr := NewTranslator(resumeToken)

	ticks := make(chan struct{}, 1)
	wd := NewWatchdog(
		s.cfg.Runner.CheckIntervalDuration(),
		s.cfg.Runner.IdleThresholdDuration(),
		s.cfg.Runner.PostResultGraceDuration(),
		func(reason string) {
			var notice string
			if reason == StallPostResult {
				notice = "Agent did not exit after reporting its result; interrupting."
			} else {
				notice = "No agent activity detected; interrupting."
			}
			st.emit(ctx, v1.Event{Type: v1.EventToolOutput, Data: notice})
			if err := runner.Interrupt(); err != nil {
				log.WithError(err).Warn("stall interrupt failed")
			}
		},
	)
	wd.OnTick(func(time.Duration) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	wd.Start(ctx)
	defer wd.Stop()

	records := runner.Records()
	stderr := runner.Stderr()
	cancelled := false

	for records != nil || stderr != nil {
		select {
		case <-ctx.Done():
			cancelled = true
			// Drain so the pipe readers can finish before Close waits
			// on process exit.
			drainRun(records, stderr)
			_ = runner.Close()
			records, stderr = nil, nil

		case rec, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			wd.Touch()
			if rec.Type == agentwire.TypeControlRequest && rec.Request != nil && rec.Request.Subtype == agentwire.SubtypeCanUseTool {
				s.handlePermission(ctx, st, runner, rec)
				continue
			}
			for _, ev := range tr.Translate(rec) {
				st.emit(ctx, ev)
			}
			if rec.Type == agentwire.TypeResult {
				wd.MarkTerminal()
			}

		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			wd.Touch()
			if line != "" {
				st.emit(ctx, v1.Event{Type: v1.EventToolOutput, Data: line})
			}

		case <-ticks:
			if name, started, ok := tr.CurrentTool(); ok {
				st.emit(ctx, v1.Event{Type: v1.EventToolOutput, Data: v1.ToolProgressData{
					Progress:           true,
					ToolName:           name,
					ElapsedTimeSeconds: time.Since(started).Seconds(),
				}})
			}
		}
	}

	var exitErr error
	if !cancelled {
		select {
		case exitErr = <-runner.Exited():
		case <-ctx.Done():
			cancelled = true
			_ = runner.Close()
		}
	}

	// No pending permission may outlive its run.
	st.broker.DenyAll("agent process exited")

	pctx := context.WithoutCancel(ctx)
	if text := tr.AccumulatedText(); text != "" {
		if err := s.store.AddMessage(pctx, &store.Message{SessionID: sess.ID, Role: "assistant", Content: text}); err != nil {
			log.WithError(err).Warn("persist assistant message")
		}
	}
	newToken := tr.ResumeToken()
	if newToken != "" && newToken != resumeToken {
		if err := s.store.UpdateResumeToken(pctx, sess.ID, newToken); err != nil {
			log.WithError(err).Warn("persist resume token")
		}
	}

	tracing.TraceSessionRunResult(span, exitErr != nil, 0, exitErr)

	if cancelled {
		return newToken, tr.Team(), nil
	}
	if exitErr != nil && !tr.TerminalSeen() {
		return newToken, tr.Team(), fmt.Errorf("agent process failed: %w", exitErr)
	}
	return newToken, tr.Team(), nil
}

// handlePermission registers a pending entry, surfaces the request to
// the client, and forwards the eventual decision to the process. The
// forwarding goroutine always terminates: the broker guarantees every
// entry resolves.
func (s *Service) handlePermission(ctx context.Context, st *stream, runner ProcessRunner, rec *agentwire.Record) {
	req := rec.Request
	id := uuid.NewString()
	decisionCh := st.broker.Register(ctx, id, req.Input)

	st.emit(ctx, v1.Event{Type: v1.EventPermissionRequest, Data: v1.PermissionRequestData{
		PermissionRequestID: id,
		ToolName:            req.ToolName,
		ToolInput:           req.Input,
		Suggestions:         req.PermissionSuggestions,
		DecisionReason:      req.DecisionReason,
		BlockedPath:         req.BlockedPath,
		ToolUseID:           req.ToolUseID,
	}})

	agentRequestID := rec.RequestID
	// Read the registered input now; a decision resolves the entry out
	// of the broker.
	input, _ := st.broker.Input(id)
	log := s.log.WithSessionID(st.sessionID)
	go func() {
		decision := <-decisionCh
		var resp *agentwire.ControlResponse
		if decision.Behavior == agentwire.BehaviorAllow {
			resp = agentwire.NewAllowResponse(agentRequestID, input, toPermissionUpdates(decision.UpdatedPermissions))
		} else {
			resp = agentwire.NewDenyResponse(agentRequestID, decision.Message)
		}
		if err := runner.SendControlResponse(resp); err != nil {
			log.WithError(err).Debug("permission response not delivered", zap.String("request_id", agentRequestID))
		}
	}()
}

func (s *Service) publish(subject string, data map[string]interface{}) {
	evt := bus.NewEvent(subject, "session_service", data)
	if err := s.bus.Publish(context.Background(), subject, evt); err != nil {
		s.log.WithError(err).Debug("bus publish failed", zap.String("subject", subject))
	}
}

// toPermissionUpdates converts the loosely typed client payload into
// wire permission updates via a JSON round trip.
func toPermissionUpdates(v any) []agentwire.PermissionUpdate {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var updates []agentwire.PermissionUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil
	}
	return updates
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// drainRun discards any buffered runner output so the pipe reader
// goroutines are never blocked on a channel nobody reads.
func drainRun(records <-chan *agentwire.Record, stderr <-chan string) {
	if records != nil {
		go func() {
			for range records {
			}
		}()
	}
	if stderr != nil {
		go func() {
			for range stderr {
			}
		}()
	}
}
