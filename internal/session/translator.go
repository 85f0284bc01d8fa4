package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/pkg/agentwire"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

// Translator maps decoded wire records to client events. It is pure
// apart from a few side-effect outputs the caller reads afterwards: the
// most recent resume token, a team name captured from tool results, the
// accumulated assistant text for persistence, and whether the terminal
// result record has been seen.
//
// One Translator serves one process run; the resume token is carried in
// from the previous run so the latest value is always available.
type Translator struct {
	resumeToken  string
	team         string
	text         strings.Builder
	terminalSeen bool

	toolName    string
	toolUseID   string
	toolStarted time.Time
}

// NewTranslator creates a translator seeded with the resume token from
// the previous run (empty for the first run).
func NewTranslator(resumeToken string) *Translator {
	return &Translator{resumeToken: resumeToken}
}

// Translate converts one record into zero or more client events.
// Control traffic yields nothing here; the caller routes it to the
// permission broker. Unrecognized records degrade to text events and
// never produce an error.
func (t *Translator) Translate(rec *agentwire.Record) []v1.Event {
	switch rec.Type {
	case agentwire.TypeSystem:
		return t.translateSystem(rec)
	case agentwire.TypeAssistant:
		return t.translateAssistant(rec)
	case agentwire.TypeUser:
		return t.translateToolResults(rec)
	case agentwire.TypeResult:
		return t.translateResult(rec)
	case agentwire.TypeControlRequest, agentwire.TypeControlResponse, agentwire.TypeStreamEvent:
		return nil
	case agentwire.TypeRaw:
		if rec.Raw == "" {
			return nil
		}
		return []v1.Event{v1.NewTextEvent(rec.Raw)}
	default:
		return nil
	}
}

func (t *Translator) translateSystem(rec *agentwire.Record) []v1.Event {
	if rec.Subtype != agentwire.SubtypeInit {
		return nil
	}
	if rec.SessionID != "" {
		t.resumeToken = rec.SessionID
	}
	return []v1.Event{{
		Type: v1.EventStatus,
		Data: v1.StatusData{
			SessionID:     rec.SessionID,
			Model:         rec.Model,
			Tools:         rec.Tools,
			SlashCommands: rec.SlashCommands,
			Skills:        rec.Skills,
		},
	}}
}

func (t *Translator) translateAssistant(rec *agentwire.Record) []v1.Event {
	if rec.Message == nil {
		return nil
	}
	var events []v1.Event
	for i := range rec.Message.Content {
		block := &rec.Message.Content[i]
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			t.text.WriteString(block.Text)
			events = append(events, v1.NewTextEvent(block.Text))
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			events = append(events, v1.Event{Type: v1.EventThinking, Data: block.Thinking})
		case "tool_use":
			t.toolName = block.Name
			t.toolUseID = block.ID
			t.toolStarted = time.Now()
			events = append(events, v1.Event{
				Type: v1.EventToolUse,
				Data: v1.ToolUseData{ID: block.ID, Name: block.Name, Input: block.Input},
			})
		}
	}
	return events
}

func (t *Translator) translateToolResults(rec *agentwire.Record) []v1.Event {
	if rec.Message == nil {
		return nil
	}
	var events []v1.Event
	for i := range rec.Message.Content {
		block := &rec.Message.Content[i]
		if block.Type != "tool_result" {
			continue
		}
		content := block.ContentText()
		t.captureTeam(content)
		if block.ToolUseID == t.toolUseID {
			t.toolName = ""
			t.toolUseID = ""
		}
		events = append(events, v1.Event{
			Type: v1.EventToolResult,
			Data: v1.ToolResultData{ToolUseID: block.ToolUseID, Content: content, IsError: block.IsError},
		})
	}
	return events
}

func (t *Translator) translateResult(rec *agentwire.Record) []v1.Event {
	if rec.SessionID != "" {
		t.resumeToken = rec.SessionID
	}
	t.terminalSeen = true
	t.toolName = ""
	t.toolUseID = ""
	return []v1.Event{{
		Type: v1.EventResult,
		Data: v1.ResultData{
			IsError:    rec.IsError,
			NumTurns:   rec.NumTurns,
			DurationMS: rec.DurationMS,
			SessionID:  rec.SessionID,
			Usage:      rec.Usage,
		},
	}}
}

// captureTeam looks for a team_name field in tool-result content. Team
// creation tools report the created team as JSON; once seen, the resume
// loop scopes its work-state checks to that team.
func (t *Translator) captureTeam(content string) {
	if t.team != "" || !strings.Contains(content, "team_name") {
		return
	}
	var payload struct {
		TeamName string `json:"team_name"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err == nil && payload.TeamName != "" {
		t.team = payload.TeamName
	}
}

// ResumeToken returns the most recent token reported by the agent.
func (t *Translator) ResumeToken() string { return t.resumeToken }

// Team returns the captured team name, or empty.
func (t *Translator) Team() string { return t.team }

// TerminalSeen reports whether the result record has arrived.
func (t *Translator) TerminalSeen() bool { return t.terminalSeen }

// AccumulatedText returns the concatenated assistant text fragments of
// this run, for persistence. Thinking fragments are excluded.
func (t *Translator) AccumulatedText() string { return t.text.String() }

// CurrentTool returns the tool invocation still awaiting its result, if
// any, with the time it started.
func (t *Translator) CurrentTool() (name string, started time.Time, ok bool) {
	if t.toolUseID == "" {
		return "", time.Time{}, false
	}
	return t.toolName, t.toolStarted, true
}
