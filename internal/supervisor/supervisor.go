// Package supervisor owns the lifecycle of a transcription run: it starts
// the unit of work (in-process goroutine or fully isolated OS process),
// translates engine, device and persistence activity into a uniform event
// stream, and implements cooperative-then-forced cancellation.
package supervisor

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/engine"
	"github.com/openscribe/transcriber/internal/recovery"
)

// ErrRunAlreadyActive is returned when starting a second concurrent run.
var ErrRunAlreadyActive = errors.New("a transcription run is already active")

// eventBuffer sizes the handle's event channel. The worker never blocks
// on a slow consumer; overflow events are dropped instead.
const eventBuffer = 256

// RunState tracks the cancellation state machine:
// Running -> CancelPending -> {Cancelled, ForceKilled}. CancelPending
// still accepts a forced-kill escalation at any time.
type RunState int32

const (
	StateRunning RunState = iota
	StateCancelPending
	StateCancelled
	StateForceKilled
	StateDone
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelPending:
		return "cancel_pending"
	case StateCancelled:
		return "cancelled"
	case StateForceKilled:
		return "force_killed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Request describes the run a caller wants started.
type Request struct {
	AudioPath        string
	OutputPath       string
	Model            string
	DevicePreference device.Preference
	Mode             engine.SegmentationMode
	Vocabulary       []string
}

// Handle is the caller's side of a started run. The caller never blocks:
// all progress arrives on the Events channel, which is closed after the
// terminal event.
type Handle struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	state  RunState
	cancel func() // cooperative cancellation
	kill   func() // forced termination (subprocess only)

	log       zerolog.Logger
	dropCount int
}

// Events returns the run's event stream. It is closed once the terminal
// event has been delivered.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done is closed when the run has fully finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the current cancellation state.
func (h *Handle) State() RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Cancel requests cooperative cancellation. The current unit of work
// finishes, the document is finalized as cancelled, and the cancelled
// event fires. Safe to call more than once.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return
	}
	h.state = StateCancelPending
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Kill escalates to forced termination. For in-process runs this is the
// same as Cancel; an isolated worker is killed outright.
func (h *Handle) Kill() {
	h.mu.Lock()
	if h.state == StateCancelled || h.state == StateForceKilled || h.state == StateDone {
		h.mu.Unlock()
		return
	}
	h.state = StateForceKilled
	kill := h.kill
	if kill == nil {
		kill = h.cancel
	}
	h.mu.Unlock()

	if kill != nil {
		kill()
	}
}

// cancelRequested reports whether the caller asked for cancellation.
func (h *Handle) cancelRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StateCancelPending || h.state == StateCancelled || h.state == StateForceKilled
}

// settle moves the state machine to its resting state when the run ends.
func (h *Handle) settle(terminal EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.state == StateForceKilled:
		// keep
	case terminal == EventCancelled:
		h.state = StateCancelled
	default:
		h.state = StateDone
	}
}

// publish delivers an event without ever blocking the worker. Dropped
// events are counted; terminal events use finish instead and are never
// dropped.
func (h *Handle) publish(ev Event) {
	ev.Timestamp = time.Now().UTC()
	select {
	case h.events <- ev:
	default:
		h.dropCount++
		h.log.Debug().Str("type", string(ev.Type)).Int("dropped", h.dropCount).
			Msg("event channel full, dropping event")
	}
}

// finish delivers the terminal event and closes the stream.
func (h *Handle) finish(ev Event) {
	ev.Timestamp = time.Now().UTC()
	h.settle(ev.Type)
	h.events <- ev
	close(h.events)
	close(h.done)
}

// Supervisor starts and tracks the single allowed active run.
type Supervisor struct {
	workerBinary string
	grace        time.Duration
	batchSize    int
	probe        device.Probe
	log          zerolog.Logger
	reader       *recovery.Reader

	mu     sync.Mutex
	active bool
}

// New creates a supervisor. workerBinary locates the isolated worker
// executable; grace bounds cancellation teardown before a forced kill.
func New(workerBinary string, grace time.Duration, batchSize int, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		workerBinary: workerBinary,
		grace:        grace,
		batchSize:    batchSize,
		log:          log,
		reader:       recovery.NewReader(log),
	}
}

// SetDeviceProbe overrides the accelerator probe used by in-process runs.
func (s *Supervisor) SetDeviceProbe(probe device.Probe) {
	s.probe = probe
}

// IsRunning reports whether a run is currently active.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Supervisor) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrRunAlreadyActive
	}
	s.active = true
	return nil
}

func (s *Supervisor) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *Supervisor) newHandle() *Handle {
	return &Handle{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		state:  StateRunning,
		log:    s.log,
	}
}
