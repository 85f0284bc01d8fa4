package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/agentwire"
)

// RunOptions configures one process run.
type RunOptions struct {
	Instruction string
	WorkingDir  string
	Model       string
	ResumeToken string
}

// ProcessRunner is the supervisor of one external agent process run.
// Runner is the real implementation; tests substitute their own.
type ProcessRunner interface {
	Start(ctx context.Context, opts RunOptions) error
	Records() <-chan *agentwire.Record
	Stderr() <-chan string
	Exited() <-chan error
	SendControlResponse(resp *agentwire.ControlResponse) error
	Interrupt() error
	Close() error
}

// ErrAlreadyStarted is returned by a second Start on the same Runner.
var ErrAlreadyStarted = errors.New("runner already started")

// Runner spawns and supervises one agent CLI process. It delivers the
// run's instruction as a single user message, decodes stdout into
// records, and surfaces stderr lines and the exit status on their own
// channels. The stdin pipe stays open after the instruction so
// permission decisions and interrupts can reach the process.
//
// One Runner serves exactly one run; a new run needs a new Runner.
type Runner struct {
	sessionID     string
	binary        string
	passthrough   []string
	shutdownGrace time.Duration
	log           *logger.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cmd     *exec.Cmd
	writer  *agentwire.Writer

	records chan *agentwire.Record
	stderr  chan string
	exited  chan error
}

// NewRunner creates an unstarted runner for the given session.
func NewRunner(sessionID string, agentCfg config.AgentConfig, shutdownGrace time.Duration, log *logger.Logger) *Runner {
	return &Runner{
		sessionID:     sessionID,
		binary:        agentCfg.BinaryPath,
		passthrough:   agentCfg.PassthroughEnv,
		shutdownGrace: shutdownGrace,
		log:           log.WithSessionID(sessionID),
		records:       make(chan *agentwire.Record, 64),
		stderr:        make(chan string, 16),
		exited:        make(chan error, 1),
	}
}

// Start spawns the agent process and delivers the instruction. The
// context gates the spawn only; once the process is running its
// lifetime is governed by Interrupt and Close. Calling Start twice on
// the same Runner is a usage error.
func (r *Runner) Start(ctx context.Context, opts RunOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	args := []string{
		"-p",
		"--output-format=stream-json",
		"--input-format=stream-json",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.ResumeToken != "" {
		args = append(args, "--resume", opts.ResumeToken)
	}

	cmd := exec.Command(r.binary, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = r.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn agent process: %w", err)
	}

	r.started = true
	r.cmd = cmd
	r.writer = agentwire.NewWriter(stdin)
	r.log.Info("agent process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("model", opts.Model),
		zap.Bool("resume", opts.ResumeToken != ""))

	var readers sync.WaitGroup
	readers.Add(2)
	go r.readStdout(&readers, stdout)
	go r.readStderr(&readers, stderrPipe)
	go r.monitorExit(&readers)

	if err := r.writer.SendUserMessage(opts.Instruction); err != nil {
		// The process may have died instantly; monitorExit reports it.
		r.log.WithError(err).Warn("failed to deliver instruction")
	}
	return nil
}

func (r *Runner) buildEnv() []string {
	env := os.Environ()
	for _, name := range r.passthrough {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// readStdout decodes the output stream into records. On EOF the
// carry-over buffer is flushed as one final record and the channel
// closes.
func (r *Runner) readStdout(wg *sync.WaitGroup, stdout io.Reader) {
	defer wg.Done()
	defer close(r.records)

	decoder := agentwire.NewLineDecoder()
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, rec := range decoder.Decode(buf[:n]) {
				r.records <- rec
			}
		}
		if err != nil {
			if rec := decoder.Flush(); rec != nil {
				r.records <- rec
			}
			if err != io.EOF {
				r.log.WithError(err).Debug("stdout read ended")
			}
			return
		}
	}
}

func (r *Runner) readStderr(wg *sync.WaitGroup, stderr io.Reader) {
	defer wg.Done()
	defer close(r.stderr)

	decoder := agentwire.NewLineDecoder()
	buf := make([]byte, 8*1024)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			for _, rec := range decoder.Decode(buf[:n]) {
				r.stderr <- rec.Raw
			}
		}
		if err != nil {
			if rec := decoder.Flush(); rec != nil {
				r.stderr <- rec.Raw
			}
			return
		}
	}
}

// monitorExit waits for both pipe readers to drain, then reaps the
// process and reports the exit status exactly once.
func (r *Runner) monitorExit(readers *sync.WaitGroup) {
	readers.Wait()
	err := r.cmd.Wait()
	if err != nil {
		r.log.WithError(err).Info("agent process exited with error")
	} else {
		r.log.Info("agent process exited")
	}
	r.exited <- err
	close(r.exited)
}

// Records returns the decoded stdout stream. Closed on EOF.
func (r *Runner) Records() <-chan *agentwire.Record { return r.records }

// Stderr returns stderr lines. Closed on EOF.
func (r *Runner) Stderr() <-chan string { return r.stderr }

// Exited delivers the process exit status once, then closes.
func (r *Runner) Exited() <-chan error { return r.exited }

// SendControlResponse writes a permission decision onto stdin.
func (r *Runner) SendControlResponse(resp *agentwire.ControlResponse) error {
	r.mu.Lock()
	w := r.writer
	r.mu.Unlock()
	if w == nil {
		return errors.New("runner not started")
	}
	return w.SendControlResponse(resp)
}

// Interrupt asks the process to stop gracefully: first a protocol-level
// interrupt on stdin, falling back to SIGINT when the write fails.
func (r *Runner) Interrupt() error {
	r.mu.Lock()
	w, cmd := r.writer, r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errors.New("runner not started")
	}

	if w != nil {
		if err := w.SendInterrupt(); err == nil {
			return nil
		}
	}
	return cmd.Process.Signal(os.Interrupt)
}

// Close interrupts the process and force-kills it if it has not exited
// within the shutdown grace period. Idempotent.
func (r *Runner) Close() error {
	r.mu.Lock()
	if !r.started || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cmd := r.cmd
	r.mu.Unlock()

	_ = r.Interrupt()

	select {
	case <-r.exited:
		return nil
	case <-time.After(r.shutdownGrace):
	}

	r.log.Warn("agent process did not exit in time, killing")
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill agent process: %w", err)
	}
	<-r.exited
	return nil
}
