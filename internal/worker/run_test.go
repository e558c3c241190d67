package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/engine"
	"github.com/openscribe/transcriber/internal/transcript"
)

// recordingReporter captures progress calls for assertions.
type recordingReporter struct {
	stages   []string
	segments []int
	logs     []string
	device   device.Selection
}

func (r *recordingReporter) Stage(stage string, progress float64, message string) {
	r.stages = append(r.stages, stage)
}

func (r *recordingReporter) DeviceResolved(sel device.Selection) {
	r.device = sel
}

func (r *recordingReporter) SegmentEmitted(num int, seg transcript.Segment) {
	r.segments = append(r.segments, num)
}

func (r *recordingReporter) Log(level, message string) {
	r.logs = append(r.logs, message)
}

func scriptedSegments(n int) []transcript.Segment {
	segments := make([]transcript.Segment, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i)
		segments = append(segments, transcript.Segment{
			ID:        fmt.Sprintf("seg-%03d", i),
			StartTime: start,
			EndTime:   start + 0.9,
			Text:      fmt.Sprintf("words number %d", i),
		})
	}
	return segments
}

func newRunner(eng engine.Engine) *Runner {
	probe := func() ([]string, error) { return nil, errors.New("no accelerator") }
	return &Runner{
		Engine:    eng,
		Selector:  device.NewSelector(probe, zerolog.Nop()),
		BatchSize: 5,
		Log:       zerolog.Nop(),
	}
}

func readDoc(t *testing.T, path string) transcript.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read document: %v", err)
	}
	var doc transcript.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	return doc
}

func TestRun_CompletesAndFinalizes(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.json")
	eng := engine.NewScriptedEngine(scriptedSegments(3), engine.Metadata{Duration: 3.0})
	rep := &recordingReporter{}

	outcome, err := newRunner(eng).Run(context.Background(), Params{
		AudioPath:        "audio.wav",
		OutputPath:       out,
		Model:            "base",
		DevicePreference: device.PreferenceCPUOnly,
		Mode:             engine.ModeNatural,
	}, rep)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if outcome.Status != transcript.StatusComplete {
		t.Errorf("Expected complete outcome, got %q", outcome.Status)
	}
	if outcome.SegmentCount != 3 {
		t.Errorf("Expected 3 segments, got %d", outcome.SegmentCount)
	}
	if outcome.WordCount != 0 {
		t.Errorf("Expected 0 timed words, got %d", outcome.WordCount)
	}
	if outcome.AudioDuration != 3.0 {
		t.Errorf("Expected audio duration 3.0, got %f", outcome.AudioDuration)
	}

	doc := readDoc(t, out)
	if doc.Status != transcript.StatusComplete {
		t.Errorf("Expected complete document, got %q", doc.Status)
	}
	if len(doc.Segments) != 3 {
		t.Errorf("Expected 3 persisted segments, got %d", len(doc.Segments))
	}

	if rep.device.Device != device.DeviceCPU {
		t.Errorf("Expected cpu device reported, got %s", rep.device)
	}
	last := rep.stages[len(rep.stages)-1]
	if last != "complete" {
		t.Errorf("Expected final stage 'complete', got %q", last)
	}
	if len(rep.segments) == 0 || rep.segments[0] != 1 {
		t.Errorf("Expected the first segment to be reported, got %v", rep.segments)
	}
}

func TestRun_ThrottlesSegmentNotifications(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.json")
	eng := engine.NewScriptedEngine(scriptedSegments(25), engine.Metadata{Duration: 25.0})
	rep := &recordingReporter{}

	if _, err := newRunner(eng).Run(context.Background(), Params{
		AudioPath:        "audio.wav",
		OutputPath:       out,
		DevicePreference: device.PreferenceCPUOnly,
	}, rep); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// First segment plus every tenth: 1, 10, 20.
	want := []int{1, 10, 20}
	if len(rep.segments) != len(want) {
		t.Fatalf("Expected %d segment notifications, got %v", len(want), rep.segments)
	}
	for i, n := range want {
		if rep.segments[i] != n {
			t.Errorf("Expected notification for segment %d, got %d", n, rep.segments[i])
		}
	}
}

func TestRun_CancellationFinalizesPartial(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.json")
	eng := engine.NewScriptedEngine(scriptedSegments(100), engine.Metadata{Duration: 100.0})
	rep := &recordingReporter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := newRunner(eng).Run(ctx, Params{
		AudioPath:        "audio.wav",
		OutputPath:       out,
		DevicePreference: device.PreferenceCPUOnly,
	}, rep)
	if err != nil {
		t.Fatalf("Expected cancellation to be a clean outcome, got error %v", err)
	}
	if outcome.Status != transcript.StatusCancelled {
		t.Errorf("Expected cancelled outcome, got %q", outcome.Status)
	}

	doc := readDoc(t, out)
	if doc.Status != transcript.StatusCancelled {
		t.Errorf("Expected cancelled document, got %q", doc.Status)
	}
}

func TestRun_FatalStreamErrorFinalizesAsError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.json")
	eng := engine.NewScriptedEngine(scriptedSegments(10), engine.Metadata{Duration: 10.0})
	eng.FailAfter = 4
	eng.Err = errors.New("decoder failure")
	rep := &recordingReporter{}

	outcome, err := newRunner(eng).Run(context.Background(), Params{
		AudioPath:        "audio.wav",
		OutputPath:       out,
		DevicePreference: device.PreferenceCPUOnly,
	}, rep)
	if err == nil {
		t.Fatal("Expected a run error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Stage != "transcribe" {
		t.Errorf("Expected a transcribe-stage error, got %v", err)
	}
	if outcome.Status != transcript.StatusError {
		t.Errorf("Expected error outcome, got %q", outcome.Status)
	}
	if outcome.SegmentCount != 4 {
		t.Errorf("Expected 4 segments before the failure, got %d", outcome.SegmentCount)
	}

	doc := readDoc(t, out)
	if doc.Status != transcript.StatusError {
		t.Errorf("Expected error document, got %q", doc.Status)
	}
	if len(doc.Segments) != 4 {
		t.Errorf("Expected 4 persisted segments, got %d", len(doc.Segments))
	}
}

func TestRun_EngineStartFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.json")
	eng := &engine.ScriptedEngine{StartErr: errors.New("model load failed"), FailAfter: -1}
	rep := &recordingReporter{}

	outcome, err := newRunner(eng).Run(context.Background(), Params{
		AudioPath:        "audio.wav",
		OutputPath:       out,
		DevicePreference: device.PreferenceCPUOnly,
	}, rep)
	if err == nil {
		t.Fatal("Expected a run error")
	}
	if outcome.Status != transcript.StatusError {
		t.Errorf("Expected error outcome, got %q", outcome.Status)
	}

	// Even a failed start leaves a valid, terminal document behind.
	doc := readDoc(t, out)
	if doc.Status != transcript.StatusError {
		t.Errorf("Expected error document, got %q", doc.Status)
	}
	if len(doc.Segments) != 0 {
		t.Errorf("Expected no segments, got %d", len(doc.Segments))
	}
}

func TestRun_PersistenceInitFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	eng := engine.NewScriptedEngine(scriptedSegments(1), engine.Metadata{})
	outcome, err := newRunner(eng).Run(context.Background(), Params{
		AudioPath:        "audio.wav",
		OutputPath:       filepath.Join(blocker, "run.json"),
		DevicePreference: device.PreferenceCPUOnly,
	}, &recordingReporter{})

	if err == nil {
		t.Fatal("Expected a run error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Stage != "prepare" {
		t.Errorf("Expected a prepare-stage error, got %v", err)
	}
	if outcome.OutputPath != "" {
		t.Errorf("Expected no artifact path, got %q", outcome.OutputPath)
	}
}

func TestRun_SentenceModeMergesFragments(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.json")
	eng := engine.NewScriptedEngine([]transcript.Segment{
		{ID: "a", StartTime: 0.0, EndTime: 1.0, Text: "So I was"},
		{ID: "b", StartTime: 1.2, EndTime: 2.0, Text: "thinking about it."},
		{ID: "c", StartTime: 3.0, EndTime: 4.0, Text: "Separate sentence."},
	}, engine.Metadata{Duration: 4.0})
	rep := &recordingReporter{}

	outcome, err := newRunner(eng).Run(context.Background(), Params{
		AudioPath:        "audio.wav",
		OutputPath:       out,
		DevicePreference: device.PreferenceCPUOnly,
		Mode:             engine.ModeSentence,
	}, rep)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if outcome.SegmentCount != 2 {
		t.Errorf("Expected 2 segments after merging, got %d", outcome.SegmentCount)
	}

	doc := readDoc(t, out)
	if len(doc.Segments) != 2 {
		t.Fatalf("Expected 2 persisted segments, got %d", len(doc.Segments))
	}
	if doc.Segments[0].Text != "So I was thinking about it." {
		t.Errorf("Unexpected merged text %q", doc.Segments[0].Text)
	}
	if len(rep.logs) == 0 {
		t.Error("Expected a log line about the merge")
	}
}

func TestRun_DurationFallsBackToLastSegment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.json")
	eng := engine.NewScriptedEngine(scriptedSegments(2), engine.Metadata{}) // no duration metadata

	outcome, err := newRunner(eng).Run(context.Background(), Params{
		AudioPath:        "audio.wav",
		OutputPath:       out,
		DevicePreference: device.PreferenceCPUOnly,
	}, &recordingReporter{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if math.Abs(outcome.AudioDuration-1.9) > 0.0001 {
		t.Errorf("Expected duration fallback 1.9, got %f", outcome.AudioDuration)
	}
}
