package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentVersion is written into every persistence document. Readers must
// stay backward-compatible across bumps: unknown fields are ignored and
// missing optional fields take their zero defaults.
const DocumentVersion = "1.0"

// Status is the lifecycle state recorded in a persistence document.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// Terminal reports whether a run never transitions out of this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// Word is a single recognized word with timing and confidence.
// Immutable once produced.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Duration returns the word duration in seconds.
func (w Word) Duration() float64 {
	return w.End - w.Start
}

// Segment is a contiguous, time-bounded span of recognized speech.
// Words, when present, are ordered by start time and loosely contained
// within [StartTime, EndTime]; small overruns are tolerated.
type Segment struct {
	ID           string  `json:"id"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Text         string  `json:"text"`
	Words        []Word  `json:"words"`
	SpeakerLabel string  `json:"speaker_label,omitempty"`
	Bookmarked   bool    `json:"is_bookmarked,omitempty"`
}

// NewSegmentID generates a short unique segment identifier.
func NewSegmentID() string {
	return uuid.NewString()[:8]
}

// Duration returns the segment duration in seconds.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// DisplayText returns the text with an optional speaker prefix.
func (s Segment) DisplayText() string {
	if s.SpeakerLabel != "" {
		return s.SpeakerLabel + ": " + s.Text
	}
	return s.Text
}

// AverageConfidence returns the mean word confidence, or 1.0 when the
// segment carries no word-level data.
func (s Segment) AverageConfidence() float64 {
	if len(s.Words) == 0 {
		return 1.0
	}
	var sum float64
	for _, w := range s.Words {
		sum += w.Confidence
	}
	return sum / float64(len(s.Words))
}

// LowConfidenceWords returns words below the given confidence threshold.
func (s Segment) LowConfidenceWords(threshold float64) []Word {
	var out []Word
	for _, w := range s.Words {
		if w.Confidence < threshold {
			out = append(out, w)
		}
	}
	return out
}

// WordCount returns the number of recognized words. When no word-level
// data exists it falls back to whitespace-splitting the text.
func (s Segment) WordCount() int {
	if len(s.Words) > 0 {
		return len(s.Words)
	}
	return len(strings.Fields(s.Text))
}

// Document is the on-disk persistence artifact. It is the durable
// contract between the worker and the recovery reader.
//
// Segments are append-only while Status is in_progress: entries already
// written are never rewritten or reordered. Status transitions are
// monotonic and terminal.
type Document struct {
	Version       string    `json:"version"`
	Status        Status    `json:"status"`
	AudioFile     string    `json:"audio_file"`
	Model         string    `json:"model"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	AudioDuration float64   `json:"audio_duration"`
	SegmentCount  int       `json:"segment_count,omitempty"`
	Segments      []Segment `json:"segments"`
}

// Transcript is the independently-owned, in-memory view of a run's
// output, reconstructed from a Document by the recovery reader.
type Transcript struct {
	AudioFile     string
	AudioDuration float64
	Status        Status
	Segments      []Segment
}

// SegmentCount returns the number of segments.
func (t *Transcript) SegmentCount() int {
	return len(t.Segments)
}

// WordCount returns the total number of words across all segments.
func (t *Transcript) WordCount() int {
	total := 0
	for _, s := range t.Segments {
		total += s.WordCount()
	}
	return total
}

// FullText returns the transcript text, one segment per line.
func (t *Transcript) FullText() string {
	lines := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		lines = append(lines, s.DisplayText())
	}
	return strings.Join(lines, "\n")
}
