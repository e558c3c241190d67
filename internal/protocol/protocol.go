// Package protocol defines the line-delimited JSON progress protocol
// spoken by the isolated worker on its standard output. Each line is one
// independently parseable message; lines that do not parse as a known
// message are treated as free-text log output, never as errors.
package protocol

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Message types.
const (
	TypeProgress = "progress"
	TypeSegment  = "segment"
	TypeError    = "error"
	TypeComplete = "complete"
)

// previewLimit is the maximum rune length of a segment text preview
// before truncation.
const previewLimit = 50

// Message is one protocol frame. Fields are populated according to Type;
// unknown fields on the wire are ignored for forward compatibility.
type Message struct {
	Type string `json:"type"`

	// progress
	Stage     string  `json:"stage,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	Message   string  `json:"message,omitempty"`
	Device    string  `json:"device,omitempty"`
	Precision string  `json:"compute_type,omitempty"`

	// segment
	SegmentNum  int     `json:"segment_num,omitempty"`
	Start       float64 `json:"start,omitempty"`
	End         float64 `json:"end,omitempty"`
	TextPreview string  `json:"text_preview,omitempty"`

	// complete
	OutputPath   string  `json:"output_path,omitempty"`
	SegmentCount int     `json:"segment_count,omitempty"`
	WordCount    int     `json:"word_count,omitempty"`
	Duration     float64 `json:"duration,omitempty"`

	// error / complete
	Timestamp string `json:"timestamp,omitempty"`
}

// Preview truncates segment text for the wire: at most previewLimit runes
// plus a trailing ellipsis.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "..."
}

// Emitter writes protocol messages, one JSON value per line. It is safe
// for concurrent use.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEmitter creates an emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

func (e *Emitter) emit(m Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// An emit failure means the parent closed the pipe; the run itself
	// must not abort over lost progress reporting.
	_ = e.enc.Encode(m)
}

// Progress emits a stage/percentage update.
func (e *Emitter) Progress(stage string, progress float64, message string) {
	e.emit(Message{
		Type:     TypeProgress,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	})
}

// DeviceResolved emits a progress update carrying the resolved device.
func (e *Emitter) DeviceResolved(stage string, progress float64, message, dev, precision string) {
	e.emit(Message{
		Type:      TypeProgress,
		Stage:     stage,
		Progress:  progress,
		Message:   message,
		Device:    dev,
		Precision: precision,
	})
}

// Segment emits a segment notification with a truncated text preview.
func (e *Emitter) Segment(num int, start, end float64, text string) {
	e.emit(Message{
		Type:        TypeSegment,
		SegmentNum:  num,
		Start:       start,
		End:         end,
		TextPreview: Preview(text),
	})
}

// Error emits an error notification.
func (e *Emitter) Error(message string) {
	e.emit(Message{
		Type:      TypeError,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Complete emits the run summary.
func (e *Emitter) Complete(outputPath string, segmentCount, wordCount int, duration float64) {
	e.emit(Message{
		Type:         TypeComplete,
		OutputPath:   outputPath,
		SegmentCount: segmentCount,
		WordCount:    wordCount,
		Duration:     duration,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// Parse decodes one protocol line. The second return value is false when
// the line is not a protocol message and should be handled as free-text
// log output.
func Parse(line []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, false
	}
	switch m.Type {
	case TypeProgress, TypeSegment, TypeError, TypeComplete:
		return m, true
	default:
		return Message{}, false
	}
}
