package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreview(t *testing.T) {
	short := "short text"
	if got := Preview(short); got != short {
		t.Errorf("Expected short text unchanged, got %q", got)
	}

	long := strings.Repeat("a", 80)
	got := Preview(long)
	if len([]rune(got)) != 53 {
		t.Errorf("Expected 50 runes plus ellipsis (53), got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Expected trailing ellipsis, got %q", got)
	}

	// Exactly at the limit passes through untouched.
	exact := strings.Repeat("b", 50)
	if got := Preview(exact); got != exact {
		t.Errorf("Expected 50-rune text unchanged, got %q", got)
	}

	// Multi-byte runes count as single characters.
	unicode := strings.Repeat("ü", 60)
	got = Preview(unicode)
	if len([]rune(got)) != 53 {
		t.Errorf("Expected rune-based truncation, got %d runes", len([]rune(got)))
	}
}

func TestEmitterWritesOneMessagePerLine(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	e.Progress("transcribe", 42.5, "working")
	e.Segment(3, 1.0, 2.5, "hello world")
	e.Complete("/tmp/out.json", 10, 120, 33.2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}

	msg, ok := Parse([]byte(lines[0]))
	if !ok || msg.Type != TypeProgress {
		t.Fatalf("Expected progress message, got %+v (ok=%v)", msg, ok)
	}
	if msg.Stage != "transcribe" || msg.Progress != 42.5 {
		t.Errorf("Unexpected progress fields: %+v", msg)
	}

	msg, ok = Parse([]byte(lines[1]))
	if !ok || msg.Type != TypeSegment {
		t.Fatalf("Expected segment message, got %+v", msg)
	}
	if msg.SegmentNum != 3 || msg.TextPreview != "hello world" {
		t.Errorf("Unexpected segment fields: %+v", msg)
	}

	msg, ok = Parse([]byte(lines[2]))
	if !ok || msg.Type != TypeComplete {
		t.Fatalf("Expected complete message, got %+v", msg)
	}
	if msg.OutputPath != "/tmp/out.json" || msg.SegmentCount != 10 || msg.WordCount != 120 {
		t.Errorf("Unexpected complete fields: %+v", msg)
	}
}

func TestEmitterTruncatesSegmentPreview(t *testing.T) {
	var buf bytes.Buffer
	NewEmitter(&buf).Segment(1, 0, 1, strings.Repeat("x", 200))

	msg, ok := Parse(bytes.TrimSpace(buf.Bytes()))
	if !ok {
		t.Fatalf("Failed to parse emitted segment")
	}
	if len([]rune(msg.TextPreview)) != 53 {
		t.Errorf("Expected truncated preview, got %d runes", len([]rune(msg.TextPreview)))
	}
}

func TestParse_RejectsNonProtocolLines(t *testing.T) {
	cases := []string{
		"plain log output from the engine",
		`{"type":"unknown_kind","message":"x"}`,
		`{"broken json`,
		`{"message":"no type field"}`,
	}
	for _, line := range cases {
		if _, ok := Parse([]byte(line)); ok {
			t.Errorf("Expected %q to be rejected as free text", line)
		}
	}
}

func TestParse_IgnoresUnknownFields(t *testing.T) {
	line := `{"type":"progress","stage":"init","progress":5,"future_field":true}`
	msg, ok := Parse([]byte(line))
	if !ok {
		t.Fatal("Expected message with unknown fields to parse")
	}
	if msg.Stage != "init" || msg.Progress != 5 {
		t.Errorf("Unexpected fields: %+v", msg)
	}
}

func TestErrorMessageCarriesTimestamp(t *testing.T) {
	var buf bytes.Buffer
	NewEmitter(&buf).Error("device lost")

	msg, ok := Parse(bytes.TrimSpace(buf.Bytes()))
	if !ok || msg.Type != TypeError {
		t.Fatalf("Expected error message, got %+v", msg)
	}
	if msg.Message != "device lost" {
		t.Errorf("Unexpected message %q", msg.Message)
	}
	if msg.Timestamp == "" {
		t.Error("Expected a timestamp on error messages")
	}
}
