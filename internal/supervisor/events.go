package supervisor

import (
	"time"

	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/internal/worker"
)

// EventType classifies messages delivered to the caller during a run.
type EventType string

const (
	EventStage     EventType = "stage_changed"
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventSegment   EventType = "segment_emitted"
	EventDevice    EventType = "device_resolved"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// Event is one asynchronous progress message. Exactly one terminal event
// (completed, error or cancelled) closes every run's stream.
type Event struct {
	Type         EventType `json:"type"`
	Stage        string    `json:"stage,omitempty"`
	Progress     float64   `json:"progress,omitempty"`
	Message      string    `json:"message,omitempty"`
	Level        string    `json:"level,omitempty"`
	SegmentNum   int       `json:"segment_num,omitempty"`
	Device       string    `json:"device,omitempty"`
	Precision    string    `json:"precision,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Terminal reports whether this event ends the run.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventCompleted, EventError, EventCancelled:
		return true
	default:
		return false
	}
}

// eventReporter adapts worker.Reporter calls onto the handle's event
// stream for the in-process strategy.
type eventReporter struct {
	h         *Handle
	lastStage string
}

func (r *eventReporter) Stage(stage string, progress float64, message string) {
	if stage != r.lastStage {
		r.lastStage = stage
		r.h.publish(Event{Type: EventStage, Stage: stage})
	}
	r.h.publish(Event{Type: EventProgress, Stage: stage, Progress: progress, Message: message})
}

func (r *eventReporter) DeviceResolved(sel device.Selection) {
	r.h.publish(Event{Type: EventDevice, Device: sel.Device, Precision: sel.Precision})
}

func (r *eventReporter) SegmentEmitted(num int, seg transcript.Segment) {
	r.h.publish(Event{Type: EventSegment, SegmentNum: num})
}

func (r *eventReporter) Log(level, message string) {
	r.h.publish(Event{Type: EventLog, Level: level, Message: message})
}

var _ worker.Reporter = (*eventReporter)(nil)
