// Package agentwire provides types and decoding for the agent CLI's
// line-delimited stream-json protocol. The agent process emits one JSON
// record per stdout line and accepts control responses and user messages
// as JSON lines on stdin.
package agentwire

import "encoding/json"

// Record types emitted by the agent CLI.
const (
	// TypeSystem is the initial system record with session info and tool catalog
	TypeSystem = "system"
	// TypeAssistant contains text, thinking, or tool_use blocks from the assistant
	TypeAssistant = "assistant"
	// TypeUser carries tool_result blocks echoed back into the transcript
	TypeUser = "user"
	// TypeResult is the final result record for a run
	TypeResult = "result"
	// TypeControlRequest is a control request (permission prompt)
	TypeControlRequest = "control_request"
	// TypeControlResponse is a response to a control request we sent
	TypeControlResponse = "control_response"
	// TypeStreamEvent carries partial-content progress updates
	TypeStreamEvent = "stream_event"
	// TypeRaw marks a line that did not parse as a protocol record.
	// Raw is never produced by the agent; the decoder synthesizes it so
	// malformed output degrades to plain text instead of being dropped.
	TypeRaw = "raw"
)

// Control request subtypes
const (
	// SubtypeInit marks the system initialization record
	SubtypeInit = "init"
	// SubtypeCanUseTool is a permission request for tool use
	SubtypeCanUseTool = "can_use_tool"
	// SubtypeInterrupt asks the agent to stop the current operation
	SubtypeInterrupt = "interrupt"
)

// Permission behaviors
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Record is one decoded line of agent output. Type determines which
// fields are populated.
type Record struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// For system records
	SessionID     string   `json:"session_id,omitempty"`
	Model         string   `json:"model,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	SlashCommands []string `json:"slash_commands,omitempty"`
	Skills        []string `json:"skills,omitempty"`

	// For assistant and user records
	Message *MessageBody `json:"message,omitempty"`

	// For control_request records
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// For control_response records
	Response *ControlResponseBody `json:"response,omitempty"`

	// For result records. Result can be either a string (final text or
	// error message) or an object, depending on the agent version.
	Result        json.RawMessage `json:"result,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`
	NumTurns      int             `json:"num_turns,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
	DurationAPIMS int64           `json:"duration_api_ms,omitempty"`
	TotalCostUSD  float64         `json:"total_cost_usd,omitempty"`
	Usage         *Usage          `json:"usage,omitempty"`

	// For raw records: the original line verbatim.
	Raw string `json:"-"`
}

// MessageBody contains the content of an assistant or user record.
type MessageBody struct {
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// ContentBlock represents one block of message content.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For thinking blocks
	Thinking string `json:"thinking,omitempty"`

	// For tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// For tool_result blocks. Content is either a JSON string or an
	// array of nested blocks; use ContentText to flatten it.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ContentText flattens a tool_result content field to plain text. A JSON
// string is returned as-is; an array of blocks has its text fields joined
// with newlines. Anything else comes back as the raw JSON.
func (b *ContentBlock) ContentText() string {
	if len(b.Content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		out := ""
		for _, nested := range blocks {
			if nested.Text == "" {
				continue
			}
			if out != "" {
				out += "\n"
			}
			out += nested.Text
		}
		return out
	}

	return string(b.Content)
}

// Usage contains token usage information.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// ResultText returns the Result field as a string when it is one.
func (r *Record) ResultText() string {
	if len(r.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return ""
	}
	return s
}

// ControlRequest is a control request from the agent process, currently
// always a permission prompt (can_use_tool).
type ControlRequest struct {
	Subtype string `json:"subtype"`

	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`

	// Suggested permission rules from the agent
	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`

	// Why the built-in permission check blocked the tool, when it did
	DecisionReason string `json:"decision_reason,omitempty"`
	BlockedPath    string `json:"blocked_path,omitempty"`
}

// PermissionUpdate represents a permission rule update.
type PermissionUpdate struct {
	Type        string   `json:"type,omitempty"`
	Rules       []string `json:"rules,omitempty"`
	Behavior    string   `json:"behavior,omitempty"`
	Destination string   `json:"destination,omitempty"`
}

// ControlResponseBody is the body of a control_response record arriving
// from the agent.
type ControlResponseBody struct {
	Subtype   string `json:"subtype"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ControlResponse is the message written to the agent's stdin to answer
// a control request.
type ControlResponse struct {
	Type      string                `json:"type"` // "control_response"
	RequestID string                `json:"request_id"`
	Response  ControlResponseResult `json:"response"`
}

// ControlResponseResult wraps the permission result for a control response.
type ControlResponseResult struct {
	Subtype string            `json:"subtype"` // success, error
	Result  *PermissionResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// PermissionResult is the decision payload for a permission prompt.
type PermissionResult struct {
	Behavior string `json:"behavior"`

	// UpdatedInput allows modifying the tool input on allow
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`

	// UpdatedPermissions adds permission rules for the rest of the session
	UpdatedPermissions []PermissionUpdate `json:"updatedPermissions,omitempty"`

	// Message provides feedback to the model on deny
	Message string `json:"message,omitempty"`
}

// UserMessage is written to the agent's stdin to deliver the instruction
// for a run.
type UserMessage struct {
	Type    string          `json:"type"` // "user"
	Message UserMessageBody `json:"message"`
}

// UserMessageBody contains the user message content.
type UserMessageBody struct {
	Role    string `json:"role"` // "user"
	Content string `json:"content"`
}

// NewUserMessage builds a user message for the given instruction.
func NewUserMessage(content string) *UserMessage {
	return &UserMessage{
		Type:    TypeUser,
		Message: UserMessageBody{Role: "user", Content: content},
	}
}

// NewAllowResponse builds a control response allowing a tool use. The
// allow result echoes the tool input back as updatedInput.
func NewAllowResponse(requestID string, updatedInput map[string]any, updatedPermissions []PermissionUpdate) *ControlResponse {
	return &ControlResponse{
		Type:      TypeControlResponse,
		RequestID: requestID,
		Response: ControlResponseResult{
			Subtype: "success",
			Result: &PermissionResult{
				Behavior:           BehaviorAllow,
				UpdatedInput:       updatedInput,
				UpdatedPermissions: updatedPermissions,
			},
		},
	}
}

// NewDenyResponse builds a control response denying a tool use.
func NewDenyResponse(requestID, message string) *ControlResponse {
	return &ControlResponse{
		Type:      TypeControlResponse,
		RequestID: requestID,
		Response: ControlResponseResult{
			Subtype: "success",
			Result: &PermissionResult{
				Behavior: BehaviorDeny,
				Message:  message,
			},
		},
	}
}
