// Package workstate reads the filesystem task/inbox store that
// cooperating agent sub-processes use to coordinate. The layout is one
// directory per team under the workstate root:
//
//	<root>/<team>/team.yaml
//	<root>/<team>/tasks/<id>.json
//	<root>/<team>/inbox/<name>/<id>.json
//
// This layer only ever reads; the agent processes own all writes.
package workstate

import "time"

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// Task is one unit of team work.
type Task struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Owner       string    `json:"owner,omitempty"`
	BlockedBy   []string  `json:"blocked_by,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Open reports whether the task still needs attention.
func (t *Task) Open() bool {
	return t.Status == TaskPending || t.Status == TaskInProgress
}

// Message is one inbox entry.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Team is the manifest stored in team.yaml.
type Team struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Lead        string       `yaml:"lead,omitempty"`
	Members     []TeamMember `yaml:"members,omitempty"`
}

// TeamMember is one agent in a team manifest.
type TeamMember struct {
	Name  string `yaml:"name"`
	Agent string `yaml:"agent,omitempty"`
	Model string `yaml:"model,omitempty"`
}
