package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestBufferedEmitterHistoryOrderAndIsolation(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{SessionID: "s1", Kind: "start_ok"})
	b.Emit(Event{SessionID: "s2", Kind: "start_ok"})
	b.Emit(Event{SessionID: "s1", Kind: "advance_ok"})

	h1 := b.History("s1")
	if len(h1) != 2 || h1[0].Kind != "start_ok" || h1[1].Kind != "advance_ok" {
		t.Fatalf("unexpected history for s1: %+v", h1)
	}
	if len(b.History("s2")) != 1 {
		t.Fatalf("unexpected history for s2: %+v", b.History("s2"))
	}

	b.Clear("s1")
	if len(b.History("s1")) != 0 {
		t.Fatal("Clear(s1) should drop only s1's events")
	}
	if len(b.History("s2")) != 1 {
		t.Fatal("Clear(s1) should not affect s2's events")
	}
}

func TestBufferedEmitterClearAllWhenEmptyKey(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{SessionID: "s1"})
	b.Emit(Event{SessionID: "s2"})
	b.Clear("")
	if len(b.History("s1")) != 0 || len(b.History("s2")) != 0 {
		t.Fatal("Clear(\"\") should drop every session's history")
	}
}

func TestBufferedEmitterEmitBatch(t *testing.T) {
	b := NewBufferedEmitter()
	err := b.EmitBatch(context.Background(), []Event{
		{SessionID: "s1", Kind: "a"},
		{SessionID: "s1", Kind: "b"},
	})
	if err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if len(b.History("s1")) != 2 {
		t.Fatalf("expected 2 events, got %d", len(b.History("s1")))
	}
}

func TestNullEmitterDiscardsEverything(t *testing.T) {
	n := NewNullEmitter()
	n.Emit(Event{SessionID: "s1"})
	if err := n.EmitBatch(context.Background(), []Event{{SessionID: "s1"}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestMultiFansOutToEveryEmitter(t *testing.T) {
	a := NewBufferedEmitter()
	b := NewBufferedEmitter()
	m := NewMulti(a, b)

	m.Emit(Event{SessionID: "s1", Kind: "advance_ok"})
	if len(a.History("s1")) != 1 || len(b.History("s1")) != 1 {
		t.Fatal("Multi.Emit should reach every fanned-out emitter")
	}

	if err := m.EmitBatch(context.Background(), []Event{{SessionID: "s1", Kind: "checkpoint_created"}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if len(a.History("s1")) != 2 || len(b.History("s1")) != 2 {
		t.Fatal("Multi.EmitBatch should reach every fanned-out emitter")
	}

	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestLogEmitterJSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)
	l.Emit(Event{SessionID: "s1", RunID: "r1", NodeID: "n1", Kind: "advance_ok", Msg: "committed", Meta: map[string]any{"isComplete": false}})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if decoded["sessionId"] != "s1" || decoded["kind"] != "advance_ok" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}

func TestLogEmitterTextModeNeverColorsNonTerminalWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)
	l.Emit(Event{SessionID: "s1", Kind: "advance_blocked", Msg: "blocked"})

	out := buf.String()
	if !strings.Contains(out, "sessionId=s1") || !strings.Contains(out, "[advance_blocked]") {
		t.Fatalf("unexpected text output: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("a plain bytes.Buffer is not a terminal; output should not carry ANSI color codes, got %q", out)
	}
}

func TestLogEmitterDefaultsWriterWhenNil(t *testing.T) {
	l := NewLogEmitter(nil, true)
	if l.writer == nil {
		t.Fatal("NewLogEmitter(nil, ...) should default to a non-nil writer")
	}
}
