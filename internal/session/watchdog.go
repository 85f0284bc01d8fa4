package session

import (
	"context"
	"sync"
	"time"
)

// Stall reasons passed to the watchdog callback.
const (
	// StallIdle means no output arrived within the idle threshold.
	StallIdle = "idle"
	// StallPostResult means the process kept running past the grace
	// period after its terminal result record.
	StallPostResult = "post_result"
)

// Watchdog tracks time since the last meaningful output of a running
// process and forces an interrupt when the process stalls. Two
// thresholds apply: a long idle threshold while the run is in flight,
// and a short grace period once the terminal result has been seen (the
// process should exit on its own shortly after).
//
// Every received message counts as activity, stderr included.
type Watchdog struct {
	checkInterval   time.Duration
	idleThreshold   time.Duration
	postResultGrace time.Duration

	onStall func(reason string)
	onTick  func(elapsed time.Duration)

	mu           sync.Mutex
	lastActivity time.Time
	terminalSeen bool
	stalled      bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatchdog creates a watchdog. onStall fires at most once; onTick is
// optional and fires every check while the run is healthy.
func NewWatchdog(checkInterval, idleThreshold, postResultGrace time.Duration, onStall func(reason string)) *Watchdog {
	return &Watchdog{
		checkInterval:   checkInterval,
		idleThreshold:   idleThreshold,
		postResultGrace: postResultGrace,
		onStall:         onStall,
		lastActivity:    time.Now(),
	}
}

// OnTick registers a callback invoked on every healthy check with the
// elapsed time since the last activity. Must be called before Start.
func (w *Watchdog) OnTick(fn func(elapsed time.Duration)) {
	w.onTick = fn
}

// Start launches the periodic check until Stop or ctx cancellation.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.check() {
					return
				}
			}
		}
	}()
}

// Stop halts the periodic check and waits for it to finish. Safe to
// call more than once and after a stall already fired.
func (w *Watchdog) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Touch resets the last-activity timestamp.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// MarkTerminal records that the terminal result record was seen; from
// now on the short post-result grace period applies.
func (w *Watchdog) MarkTerminal() {
	w.mu.Lock()
	w.terminalSeen = true
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// check applies the thresholds once. Returns true when a stall fired
// and the loop should stop.
func (w *Watchdog) check() bool {
	w.mu.Lock()
	elapsed := time.Since(w.lastActivity)
	terminal := w.terminalSeen
	already := w.stalled

	var reason string
	switch {
	case already:
	case terminal && elapsed > w.postResultGrace:
		reason = StallPostResult
	case !terminal && elapsed > w.idleThreshold:
		reason = StallIdle
	}
	if reason != "" {
		w.stalled = true
	}
	w.mu.Unlock()

	if reason != "" {
		w.onStall(reason)
		return true
	}
	if already {
		return true
	}
	if w.onTick != nil {
		w.onTick(elapsed)
	}
	return false
}
