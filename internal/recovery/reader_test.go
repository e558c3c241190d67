package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/stream"
	"github.com/openscribe/transcriber/internal/transcript"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	return path
}

func TestLoad_CompleteDocument(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "run.json", `{
		"version": "1.0",
		"status": "complete",
		"audio_file": "meeting.wav",
		"model": "base",
		"audio_duration": 12.5,
		"segments": [
			{"id": "a", "start_time": 0, "end_time": 2, "text": "hello there"},
			{"id": "b", "start_time": 3, "end_time": 5, "text": "general remarks"}
		]
	}`)

	tr, err := NewReader(zerolog.Nop()).Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if tr.Status != transcript.StatusComplete {
		t.Errorf("Expected status complete, got %q", tr.Status)
	}
	if tr.SegmentCount() != 2 {
		t.Errorf("Expected 2 segments, got %d", tr.SegmentCount())
	}
	if tr.AudioFile != "meeting.wav" || tr.AudioDuration != 12.5 {
		t.Errorf("Unexpected header: %+v", tr)
	}
}

func TestLoad_ToleratesAnyStatus(t *testing.T) {
	dir := t.TempDir()
	for _, status := range []string{"in_progress", "cancelled", "error"} {
		path := writeFixture(t, dir, status+".json", `{
			"version": "1.0",
			"status": "`+status+`",
			"segments": [{"id": "a", "start_time": 0, "end_time": 1, "text": "partial"}]
		}`)

		tr, err := NewReader(zerolog.Nop()).Load(path)
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", status, err)
		}
		if string(tr.Status) != status {
			t.Errorf("Expected status %q preserved, got %q", status, tr.Status)
		}
		if tr.SegmentCount() != 1 {
			t.Errorf("Expected partial transcript from %s document, got %d segments", status, tr.SegmentCount())
		}
	}
}

func TestLoad_SkipsMalformedSegments(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "run.json", `{
		"version": "1.0",
		"status": "in_progress",
		"segments": [
			{"id": "a", "start_time": 0, "end_time": 2, "text": "good"},
			{"id": "b", "start_time": "not-a-number", "end_time": 4, "text": "bad"},
			{"id": "c", "start_time": 5, "end_time": 6, "text": "also good"}
		]
	}`)

	tr, err := NewReader(zerolog.Nop()).Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if tr.SegmentCount() != 2 {
		t.Fatalf("Expected the malformed entry skipped, got %d segments", tr.SegmentCount())
	}
	if tr.Segments[0].ID != "a" || tr.Segments[1].ID != "c" {
		t.Errorf("Expected segments a and c, got %+v", tr.Segments)
	}
}

func TestLoad_EmptyStatusDefaultsToInProgress(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "run.json", `{"version": "1.0", "segments": []}`)

	tr, err := NewReader(zerolog.Nop()).Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if tr.Status != transcript.StatusInProgress {
		t.Errorf("Expected default status in_progress, got %q", tr.Status)
	}
}

func TestLoad_DurationFallsBackToLastSegment(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "run.json", `{
		"status": "in_progress",
		"segments": [{"id": "a", "start_time": 0, "end_time": 7.5, "text": "x"}]
	}`)

	tr, err := NewReader(zerolog.Nop()).Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if tr.AudioDuration != 7.5 {
		t.Errorf("Expected duration fallback 7.5, got %f", tr.AudioDuration)
	}
}

func TestLoad_Errors(t *testing.T) {
	r := NewReader(zerolog.Nop())
	if _, err := r.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := writeFixture(t, t.TempDir(), "broken.json", `{not json at all`)
	if _, err := r.Load(path); err == nil {
		t.Error("Expected error for unparseable document")
	}
}

func TestLoad_RoundTripFromWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	w, err := stream.Open(path, "audio.wav", "base", 3, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	for i := 0; i < 7; i++ {
		w.Append(transcript.Segment{
			ID:        transcript.NewSegmentID(),
			StartTime: float64(i),
			EndTime:   float64(i) + 0.8,
			Text:      "spoken words here",
		})
	}
	// No finalize: simulates a crash mid-run. Two batches of 3 reached
	// disk; the 7th segment was still buffered and is lost.
	tr, err := NewReader(zerolog.Nop()).Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if tr.Status != transcript.StatusInProgress {
		t.Errorf("Expected crashed document to read as in_progress, got %q", tr.Status)
	}
	if tr.SegmentCount() != 6 {
		t.Errorf("Expected 6 recovered segments, got %d", tr.SegmentCount())
	}
}

func TestListCandidates(t *testing.T) {
	dir := t.TempDir()
	old := writeFixture(t, dir, "old.json", `{}`)
	newer := writeFixture(t, dir, "newer.json", `{}`)
	writeFixture(t, dir, "notes.txt", "not a document")

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	r := NewReader(zerolog.Nop())
	candidates := r.ListCandidates([]string{dir, filepath.Join(dir, "does-not-exist")})
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Path != newer {
		t.Errorf("Expected newest candidate first, got %s", candidates[0].Path)
	}
	if candidates[1].Path != old {
		t.Errorf("Expected oldest candidate last, got %s", candidates[1].Path)
	}
}

func TestLoadStatus(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "run.json", `{"status": "complete", "segments": []}`)

	r := NewReader(zerolog.Nop())
	status, err := r.LoadStatus(path)
	if err != nil {
		t.Fatalf("LoadStatus() failed: %v", err)
	}
	if status != transcript.StatusComplete {
		t.Errorf("Expected complete, got %q", status)
	}

	empty := writeFixture(t, dir, "empty-status.json", `{"segments": []}`)
	status, err = r.LoadStatus(empty)
	if err != nil {
		t.Fatalf("LoadStatus() failed: %v", err)
	}
	if status != transcript.StatusInProgress {
		t.Errorf("Expected in_progress default, got %q", status)
	}

	if _, err := r.LoadStatus(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}
