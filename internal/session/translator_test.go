package session

import (
	"encoding/json"
	"testing"

	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
	"github.com/agentdeck/agentdeck/pkg/agentwire"
)

func TestTranslateInit(t *testing.T) {
	tr := NewTranslator("")

	events := tr.Translate(&agentwire.Record{
		Type:      agentwire.TypeSystem,
		Subtype:   agentwire.SubtypeInit,
		SessionID: "tok-1",
		Model:     "claude-sonnet-4-5",
		Tools:     []string{"Bash", "Read"},
	})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != v1.EventStatus {
		t.Errorf("expected status event, got %s", events[0].Type)
	}
	data := events[0].Data.(v1.StatusData)
	if data.SessionID != "tok-1" || data.Model != "claude-sonnet-4-5" {
		t.Errorf("unexpected status data: %+v", data)
	}
	if tr.ResumeToken() != "tok-1" {
		t.Errorf("resume token not captured: %q", tr.ResumeToken())
	}
}

func TestTranslateAssistantBlocks(t *testing.T) {
	tr := NewTranslator("")

	events := tr.Translate(&agentwire.Record{
		Type: agentwire.TypeAssistant,
		Message: &agentwire.MessageBody{
			Role: "assistant",
			Content: []agentwire.ContentBlock{
				{Type: "thinking", Thinking: "hmm"},
				{Type: "text", Text: "I'll run "},
				{Type: "tool_use", ID: "tu-1", Name: "Bash", Input: map[string]any{"command": "ls"}},
				{Type: "text", Text: "the listing."},
			},
		},
	})
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	wantKinds := []string{v1.EventThinking, v1.EventText, v1.EventToolUse, v1.EventText}
	for i, kind := range wantKinds {
		if events[i].Type != kind {
			t.Errorf("event %d: expected %s, got %s", i, kind, events[i].Type)
		}
	}

	// Thinking is excluded from the persisted text.
	if got := tr.AccumulatedText(); got != "I'll run the listing." {
		t.Errorf("unexpected accumulated text: %q", got)
	}

	name, _, ok := tr.CurrentTool()
	if !ok || name != "Bash" {
		t.Errorf("expected current tool Bash, got %q ok=%v", name, ok)
	}
}

func TestTranslateToolResult(t *testing.T) {
	tr := NewTranslator("")
	tr.Translate(&agentwire.Record{
		Type: agentwire.TypeAssistant,
		Message: &agentwire.MessageBody{Content: []agentwire.ContentBlock{
			{Type: "tool_use", ID: "tu-1", Name: "Bash"},
		}},
	})

	events := tr.Translate(&agentwire.Record{
		Type: agentwire.TypeUser,
		Message: &agentwire.MessageBody{
			Role: "user",
			Content: []agentwire.ContentBlock{
				{
					Type:      "tool_result",
					ToolUseID: "tu-1",
					Content:   json.RawMessage(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`),
				},
			},
		},
	})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	data := events[0].Data.(v1.ToolResultData)
	if data.ToolUseID != "tu-1" || data.Content != "a\nb" || data.IsError {
		t.Errorf("unexpected tool result: %+v", data)
	}

	if _, _, ok := tr.CurrentTool(); ok {
		t.Error("tool should be cleared after its result")
	}
}

func TestTranslateCapturesTeamName(t *testing.T) {
	tr := NewTranslator("")

	tr.Translate(&agentwire.Record{
		Type: agentwire.TypeUser,
		Message: &agentwire.MessageBody{Content: []agentwire.ContentBlock{
			{Type: "tool_result", ToolUseID: "tu-1", Content: json.RawMessage(`"{\"team_name\":\"crew\",\"members\":2}"`)},
		}},
	})
	if tr.Team() != "crew" {
		t.Errorf("expected team crew, got %q", tr.Team())
	}

	// First capture wins.
	tr.Translate(&agentwire.Record{
		Type: agentwire.TypeUser,
		Message: &agentwire.MessageBody{Content: []agentwire.ContentBlock{
			{Type: "tool_result", Content: json.RawMessage(`"{\"team_name\":\"other\"}"`)},
		}},
	})
	if tr.Team() != "crew" {
		t.Errorf("team should not change, got %q", tr.Team())
	}
}

func TestTranslateResult(t *testing.T) {
	tr := NewTranslator("tok-old")

	events := tr.Translate(&agentwire.Record{
		Type:       agentwire.TypeResult,
		IsError:    false,
		NumTurns:   2,
		DurationMS: 1234,
		SessionID:  "tok-new",
		Usage:      &agentwire.Usage{InputTokens: 10, OutputTokens: 20},
	})
	if len(events) != 1 || events[0].Type != v1.EventResult {
		t.Fatalf("expected result event, got %+v", events)
	}
	data := events[0].Data.(v1.ResultData)
	if data.NumTurns != 2 || data.DurationMS != 1234 || data.IsError {
		t.Errorf("unexpected result data: %+v", data)
	}
	if tr.ResumeToken() != "tok-new" {
		t.Errorf("resume token not updated: %q", tr.ResumeToken())
	}
	if !tr.TerminalSeen() {
		t.Error("terminal result not marked")
	}
}

func TestTranslateRawAndControl(t *testing.T) {
	tr := NewTranslator("")

	events := tr.Translate(&agentwire.Record{Type: agentwire.TypeRaw, Raw: "garbage output"})
	if len(events) != 1 || events[0].Type != v1.EventText {
		t.Fatalf("raw record should degrade to text, got %+v", events)
	}
	if events[0].Data != "garbage output" {
		t.Errorf("raw text lost: %v", events[0].Data)
	}

	// Control traffic produces no client events here.
	if events := tr.Translate(&agentwire.Record{Type: agentwire.TypeControlRequest}); events != nil {
		t.Errorf("control_request should yield nothing, got %+v", events)
	}
	if events := tr.Translate(&agentwire.Record{Type: agentwire.TypeControlResponse}); events != nil {
		t.Errorf("control_response should yield nothing, got %+v", events)
	}
}

func TestTranslateOrderPreserved(t *testing.T) {
	tr := NewTranslator("")
	records := []*agentwire.Record{
		{Type: agentwire.TypeSystem, Subtype: agentwire.SubtypeInit, SessionID: "tok"},
		{Type: agentwire.TypeAssistant, Message: &agentwire.MessageBody{Content: []agentwire.ContentBlock{{Type: "text", Text: "one"}}}},
		{Type: agentwire.TypeRaw, Raw: "noise"},
		{Type: agentwire.TypeResult, SessionID: "tok"},
	}

	var kinds []string
	for _, rec := range records {
		for _, ev := range tr.Translate(rec) {
			kinds = append(kinds, ev.Type)
		}
	}
	want := []string{v1.EventStatus, v1.EventText, v1.EventText, v1.EventResult}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}
