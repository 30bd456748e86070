package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// LogEmitter implements Emitter by writing structured log output to a
// writer, either as colorized text (when the writer is a terminal) or as
// JSONL.
//
// Grounded on the teacher's graph/emit.LogEmitter; adapted to this
// domain's Event shape and given terminal-aware coloring via fatih/color
// and mattn/go-isatty, which the teacher's LogEmitter never used.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
	color    bool
}

// NewLogEmitter builds a LogEmitter. Color is auto-detected from the
// writer when it is an *os.File attached to a terminal; jsonMode forces
// machine-readable JSONL regardless of terminal detection.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	useColor := false
	if f, ok := writer.(*os.File); ok && !jsonMode {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode, color: useColor}
}

func kindColor(kind string) *color.Color {
	switch kind {
	case "advance_blocked", "tool_error":
		return color.New(color.FgRed)
	case "checkpoint_created":
		return color.New(color.FgCyan)
	case "advance_ok", "start_ok":
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgYellow)
	}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		SessionID string         `json:"sessionId"`
		RunID     string         `json:"runId"`
		NodeID    string         `json:"nodeId"`
		Kind      string         `json:"kind"`
		Msg       string         `json:"msg"`
		Meta      map[string]any `json:"meta,omitempty"`
	}{
		SessionID: event.SessionID,
		RunID:     event.RunID,
		NodeID:    event.NodeID,
		Kind:      event.Kind,
		Msg:       event.Msg,
		Meta:      event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":%q}\n", err.Error())
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	tag := fmt.Sprintf("[%s]", event.Kind)
	if l.color {
		tag = kindColor(event.Kind).Sprint(tag)
	}
	_, _ = fmt.Fprintf(l.writer, "%s sessionId=%s runId=%s nodeId=%s %s",
		tag, event.SessionID, event.RunID, event.NodeID, event.Msg)
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously and holds no buffer.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
