package workstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events/bus"
)

const debounceWindow = 500 * time.Millisecond

// Watcher observes the workstate root with fsnotify and publishes a
// bus event per task whose status changed. Agent sub-processes write
// task files in bursts, so events for a team are debounced and diffed
// against the previous snapshot instead of forwarded raw.
type Watcher struct {
	reader *Reader
	bus    bus.EventBus
	log    *logger.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer // team -> pending debounce
	snapshot map[string]map[string]string
	// team -> task id -> status

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over the reader's root.
func NewWatcher(reader *Reader, b bus.EventBus, log *logger.Logger) *Watcher {
	return &Watcher{
		reader:   reader,
		bus:      b,
		log:      log.WithFields(zap.String("component", "workstate_watcher")),
		timers:   make(map[string]*time.Timer),
		snapshot: make(map[string]map[string]string),
	}
}

// Start begins watching. The root and existing team subdirectories are
// registered immediately; directories created later are picked up from
// create events. Returns without error when the root does not exist yet.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := os.Stat(w.reader.Root()); os.IsNotExist(err) {
		w.log.Info("workstate root does not exist, watcher disabled", zap.String("root", w.reader.Root()))
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addRecursive(w.reader.Root()); err != nil {
		fsw.Close()
		return err
	}

	// Seed snapshots so startup state does not fire change events.
	teams, _ := w.reader.Teams()
	for _, team := range teams {
		w.snapshot[team] = w.taskStatuses(team)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop cancels the watch loop and waits for it to finish.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}

	team := w.teamOf(event.Name)
	if team == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[team]; ok {
		t.Reset(debounceWindow)
		return
	}
	w.timers[team] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.timers, team)
		w.mu.Unlock()
		w.publishChanges(ctx, team)
	})
}

// publishChanges diffs the team's task statuses against the last
// snapshot and publishes one event per changed task.
func (w *Watcher) publishChanges(ctx context.Context, team string) {
	tasks, err := w.reader.Tasks(team)
	if err != nil {
		w.log.WithError(err).Warn("read tasks after change", zap.String("team", team))
		return
	}
	current := make(map[string]string, len(tasks))
	for _, t := range tasks {
		current[t.ID] = t.Status
	}

	w.mu.Lock()
	prev := w.snapshot[team]
	w.snapshot[team] = current
	w.mu.Unlock()

	for _, task := range tasks {
		if prev[task.ID] == task.Status {
			continue
		}
		evt := bus.NewEvent("workstate.changed", "workstate_watcher", map[string]interface{}{
			"team":    team,
			"task_id": task.ID,
			"status":  task.Status,
			"summary": task.Subject,
		})
		if err := w.bus.Publish(ctx, bus.WorkstateSubject(team), evt); err != nil {
			w.log.WithError(err).Warn("publish workstate change", zap.String("team", team))
		}
	}
}

func (w *Watcher) taskStatuses(team string) map[string]string {
	statuses := make(map[string]string)
	tasks, err := w.reader.Tasks(team)
	if err != nil {
		return statuses
	}
	for _, t := range tasks {
		statuses[t.ID] = t.Status
	}
	return statuses
}

// teamOf maps a changed path to the team directory it falls under.
func (w *Watcher) teamOf(path string) string {
	rel, err := filepath.Rel(w.reader.Root(), path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0]
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
