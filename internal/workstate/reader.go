package workstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Reader provides read-only access to the workstate root. The store is
// mutated concurrently by agent sub-processes, so every read is a fresh
// snapshot; malformed or half-written files are skipped rather than
// surfaced as errors.
type Reader struct {
	root string
	log  *logger.Logger
}

// NewReader creates a reader rooted at dir. A leading ~ is expanded.
func NewReader(dir string, log *logger.Logger) *Reader {
	return &Reader{root: expandHome(dir), log: log.WithFields(zap.String("component", "workstate"))}
}

// Root returns the expanded workstate root directory.
func (r *Reader) Root() string {
	return r.root
}

// Teams lists the team directories under the root.
func (r *Reader) Teams() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workstate root: %w", err)
	}
	var teams []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			teams = append(teams, e.Name())
		}
	}
	sort.Strings(teams)
	return teams, nil
}

// Team loads a team manifest. Returns nil without error when the
// manifest does not exist.
func (r *Reader) Team(name string) (*Team, error) {
	data, err := os.ReadFile(filepath.Join(r.root, name, "team.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read team manifest: %w", err)
	}
	var team Team
	if err := yaml.Unmarshal(data, &team); err != nil {
		return nil, fmt.Errorf("parse team manifest: %w", err)
	}
	if team.Name == "" {
		team.Name = name
	}
	return &team, nil
}

// Tasks returns all tasks for a team, sorted by id. When team is empty,
// tasks from every team are returned.
func (r *Reader) Tasks(team string) ([]Task, error) {
	teams, err := r.scope(team)
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for _, t := range teams {
		dir := filepath.Join(r.root, t, "tasks")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			var task Task
			if !r.readJSON(filepath.Join(dir, e.Name()), &task) {
				continue
			}
			if task.ID == "" {
				task.ID = strings.TrimSuffix(e.Name(), ".json")
			}
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// UnreadMessages returns unread inbox entries for a team (or all teams
// when team is empty).
func (r *Reader) UnreadMessages(team string) ([]Message, error) {
	teams, err := r.scope(team)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for _, t := range teams {
		inboxRoot := filepath.Join(r.root, t, "inbox")
		// One subdirectory per member; flat files are tolerated too.
		_ = filepath.WalkDir(inboxRoot, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
				return nil
			}
			var msg Message
			if r.readJSON(path, &msg) && !msg.Read {
				if msg.ID == "" {
					msg.ID = strings.TrimSuffix(d.Name(), ".json")
				}
				msgs = append(msgs, msg)
			}
			return nil
		})
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// HasPendingWork reports whether any open task or unread message exists
// for the team. This is the resume-loop continuation check.
func (r *Reader) HasPendingWork(team string) (bool, error) {
	tasks, err := r.Tasks(team)
	if err != nil {
		return false, err
	}
	for i := range tasks {
		if tasks[i].Open() {
			return true, nil
		}
	}
	msgs, err := r.UnreadMessages(team)
	if err != nil {
		return false, err
	}
	return len(msgs) > 0, nil
}

func (r *Reader) scope(team string) ([]string, error) {
	if team != "" {
		return []string{team}, nil
	}
	return r.Teams()
}

// readJSON decodes a file, returning false on any failure. A partially
// written file from a concurrent agent write is expected, not an error.
func (r *Reader) readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		r.log.WithError(err).Debug("skipping malformed workstate file", zap.String("path", path))
		return false
	}
	return true
}

func expandHome(dir string) string {
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}
