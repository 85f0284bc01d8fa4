package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// ContinueInstruction is the synthetic instruction delivered to each
// resume cycle.
const ContinueInstruction = "Check your inbox and continue working on any pending tasks."

// resume loop states
type resumeState int

const (
	stateEvaluating resumeState = iota
	stateRunning
	stateDone
)

// WorkChecker reports whether externally stored team work remains.
// workstate.Reader satisfies it.
type WorkChecker interface {
	HasPendingWork(team string) (bool, error)
}

// CycleFunc runs one resume cycle: a full process run with the given
// instruction and resume token, relaying its events to the client. It
// returns the token captured during the run.
type CycleFunc func(ctx context.Context, instruction, resumeToken string) (newToken string, err error)

// ResumeController drives the bounded resume loop after the initial
// process run exits. While the work-state store reports open tasks or
// unread inbox messages for the team, it keeps starting new cycles with
// the most recent resume token, up to a fixed maximum.
type ResumeController struct {
	checker      WorkChecker
	pollInterval time.Duration
	maxCycles    int
	log          *logger.Logger

	onCycleStart func(cycle int)
}

// NewResumeController creates a controller.
func NewResumeController(checker WorkChecker, pollInterval time.Duration, maxCycles int, log *logger.Logger) *ResumeController {
	return &ResumeController{
		checker:      checker,
		pollInterval: pollInterval,
		maxCycles:    maxCycles,
		log:          log.WithFields(zap.String("component", "resume_controller")),
	}
}

// OnCycleStart registers a callback fired before each cycle's run, so
// the endpoint can emit a status notification.
func (c *ResumeController) OnCycleStart(fn func(cycle int)) {
	c.onCycleStart = fn
}

// Loop runs the state machine until no work remains, the cycle cap is
// reached, the context is cancelled, or a cycle fails. The returned
// count is the number of cycles that ran; the error is non-nil only
// when a cycle's process run failed.
func (c *ResumeController) Loop(ctx context.Context, team, resumeToken string, run CycleFunc) (int, error) {
	log := c.log.WithTeam(team)
	state := stateEvaluating
	cycle := 0

	for state != stateDone {
		switch state {
		case stateEvaluating:
			if cycle >= c.maxCycles {
				log.Warn("resume cycle limit reached", zap.Int("cycles", cycle))
				state = stateDone
				break
			}
			select {
			case <-ctx.Done():
				state = stateDone
				continue
			case <-time.After(c.pollInterval):
			}
			pending, err := c.checker.HasPendingWork(team)
			if err != nil {
				log.WithError(err).Warn("work-state check failed, ending resume loop")
				state = stateDone
				break
			}
			if !pending {
				log.Info("no pending work, resume loop done", zap.Int("cycles", cycle))
				state = stateDone
				break
			}
			state = stateRunning

		case stateRunning:
			cycle++
			log.Info("starting resume cycle", zap.Int("cycle", cycle))
			if c.onCycleStart != nil {
				c.onCycleStart(cycle)
			}
			token, err := run(ctx, ContinueInstruction, resumeToken)
			if err != nil {
				log.WithError(err).Error("resume cycle failed", zap.Int("cycle", cycle))
				return cycle, err
			}
			if token != "" {
				resumeToken = token
			}
			state = stateEvaluating
		}
	}
	return cycle, nil
}
