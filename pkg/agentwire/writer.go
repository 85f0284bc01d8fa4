package agentwire

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Writer serializes protocol messages onto the agent's stdin. Writes are
// mutex-guarded so permission responses and interrupts originating from
// different goroutines never interleave mid-line.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	nextID int
}

// NewWriter wraps the agent's stdin pipe.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// SendUserMessage writes the instruction for a run.
func (w *Writer) SendUserMessage(content string) error {
	return w.send(NewUserMessage(content))
}

// SendControlResponse answers a pending control request.
func (w *Writer) SendControlResponse(resp *ControlResponse) error {
	return w.send(resp)
}

// SendInterrupt asks the agent to stop its current operation. The agent
// replies with a control_response and then a result record.
func (w *Writer) SendInterrupt() error {
	w.mu.Lock()
	w.nextID++
	id := fmt.Sprintf("req_%d", w.nextID)
	w.mu.Unlock()

	return w.send(map[string]any{
		"type":       TypeControlRequest,
		"request_id": id,
		"request":    map[string]any{"subtype": SubtypeInterrupt},
	})
}

func (w *Writer) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write to agent stdin: %w", err)
	}
	return nil
}
