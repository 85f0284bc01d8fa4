// Package v1 defines the client-facing event vocabulary for session
// streams. Events are what a client sees over SSE or WebSocket; the
// payload shapes are stable regardless of the agent CLI version behind
// them.
package v1

// Event kinds.
const (
	// EventStatus carries session metadata or an out-of-band notification
	EventStatus = "status"
	// EventText is one assistant text fragment
	EventText = "text"
	// EventThinking is one assistant thinking fragment; never persisted
	EventThinking = "thinking"
	// EventToolUse announces a tool invocation
	EventToolUse = "tool_use"
	// EventToolResult carries the flattened result of a tool invocation
	EventToolResult = "tool_result"
	// EventToolOutput is diagnostic text or a progress notice
	EventToolOutput = "tool_output"
	// EventPermissionRequest asks the client to approve or deny a tool use
	EventPermissionRequest = "permission_request"
	// EventTaskNotification reports a team task state change
	EventTaskNotification = "task_notification"
	// EventResult is the terminal record of one process run
	EventResult = "result"
	// EventError is a free-text failure message
	EventError = "error"
	// EventDone is always the final event of a stream; empty payload
	EventDone = "done"
)

// Event is one tagged record on a session stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// StatusData is the payload of a status event. Either the session
// metadata fields are set (initialization) or Notification is true and
// Title/Message carry an out-of-band notice (resume cycle start, stall
// interrupt).
type StatusData struct {
	SessionID     string   `json:"session_id,omitempty"`
	Model         string   `json:"model,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	SlashCommands []string `json:"slash_commands,omitempty"`
	Skills        []string `json:"skills,omitempty"`

	Notification bool   `json:"notification,omitempty"`
	Title        string `json:"title,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ToolUseData is the payload of a tool_use event.
type ToolUseData struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResultData is the payload of a tool_result event. Content is
// always flattened to plain text.
type ToolResultData struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// ToolProgressData is the structured form of a tool_output payload,
// emitted periodically while a tool invocation is still running.
type ToolProgressData struct {
	Progress           bool    `json:"_progress"`
	ToolName           string  `json:"tool_name"`
	ElapsedTimeSeconds float64 `json:"elapsed_time_seconds"`
}

// PermissionRequestData is the payload of a permission_request event.
type PermissionRequestData struct {
	PermissionRequestID string         `json:"permissionRequestId"`
	ToolName            string         `json:"toolName"`
	ToolInput           map[string]any `json:"toolInput"`
	Suggestions         any            `json:"suggestions,omitempty"`
	DecisionReason      string         `json:"decisionReason,omitempty"`
	BlockedPath         string         `json:"blockedPath,omitempty"`
	ToolUseID           string         `json:"toolUseId"`
}

// TaskNotificationData is the payload of a task_notification event.
type TaskNotificationData struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// ResultData is the payload of a result event.
type ResultData struct {
	IsError    bool   `json:"is_error"`
	NumTurns   int    `json:"num_turns"`
	DurationMS int64  `json:"duration_ms"`
	SessionID  string `json:"session_id"`
	Usage      any    `json:"usage,omitempty"`
}

// PermissionDecision is the client's answer to a permission_request.
type PermissionDecision struct {
	Behavior string `json:"behavior"` // allow, deny

	// For allow: permission rules to apply for the rest of the session
	UpdatedPermissions any `json:"updatedPermissions,omitempty"`

	// For deny: feedback passed back to the agent
	Message string `json:"message,omitempty"`
}

// PermissionResponse is the inbound message resolving a pending
// permission request.
type PermissionResponse struct {
	PermissionRequestID string             `json:"permissionRequestId"`
	Decision            PermissionDecision `json:"decision"`
}

// NewStatusNotification builds a status event with notification payload.
func NewStatusNotification(title, message string) Event {
	return Event{Type: EventStatus, Data: StatusData{Notification: true, Title: title, Message: message}}
}

// NewTextEvent builds a text event.
func NewTextEvent(text string) Event {
	return Event{Type: EventText, Data: text}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(message string) Event {
	return Event{Type: EventError, Data: message}
}

// NewDoneEvent builds the terminal done event.
func NewDoneEvent() Event {
	return Event{Type: EventDone}
}
