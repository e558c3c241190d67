// Package stream provides the append-only, crash-safe incremental writer
// for a transcription run's persistence document.
package stream

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/observability"
	"github.com/openscribe/transcriber/internal/resilience"
	"github.com/openscribe/transcriber/internal/transcript"
)

// DefaultBatchSize is the reference flush batch size. Appends are
// buffered in memory and the document is rewritten once this many
// segments accumulate, bounding rewrites to ceil(n/batch) per run at the
// cost of at most batch-1 segments of loss on crash.
const DefaultBatchSize = 50

// Writer owns a persistence document for the lifetime of one run. It is
// the file's only writer; readers go through the recovery package and
// only ever observe the most recently flushed, fully rewritten document.
//
// Writer is not safe for concurrent use: the run loop is the sole caller.
type Writer struct {
	path      string
	batchSize int
	log       zerolog.Logger

	doc       transcript.Document // flushed state only
	buffer    []transcript.Segment
	finalized bool

	// injected for tests
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// Open creates the persistence document for a new run with status
// in_progress and no segments, and returns a writer bound to it. An error
// here is the one case where a run produces no recoverable artifact.
func Open(path, audioFile, model string, batchSize int, log zerolog.Logger) (*Writer, error) {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	w := &Writer{
		path:      path,
		batchSize: batchSize,
		log:       log,
		doc: transcript.Document{
			Version:   transcript.DocumentVersion,
			Status:    transcript.StatusInProgress,
			AudioFile: audioFile,
			Model:     model,
			StartedAt: time.Now().UTC(),
			Segments:  []transcript.Segment{},
		},
		writeFile: os.WriteFile,
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := w.write(w.doc); err != nil {
		return nil, fmt.Errorf("initialize persistence document: %w", err)
	}
	return w, nil
}

// Path returns the location of the persistence document.
func (w *Writer) Path() string {
	return w.path
}

// Append buffers one segment and flushes the document when the buffer
// reaches the batch size. A flush failure is not fatal: the buffer is
// retained and flushing is retried at the next batch boundary or at
// Finalize, which is the only place a write error surfaces.
func (w *Writer) Append(seg transcript.Segment) {
	if w.finalized {
		w.log.Error().Str("segment", seg.ID).Msg("append after finalize dropped")
		return
	}

	w.buffer = append(w.buffer, seg)
	if len(w.buffer) >= w.batchSize {
		if err := w.flush(); err != nil {
			w.log.Warn().Err(err).Int("buffered", len(w.buffer)).
				Msg("segment flush failed, retaining buffer")
		}
	}
}

// Buffered returns the number of appended segments not yet on disk.
func (w *Writer) Buffered() int {
	return len(w.buffer)
}

// SegmentsPersisted returns the number of segments in the last
// successfully flushed document.
func (w *Writer) SegmentsPersisted() int {
	return len(w.doc.Segments)
}

// ReplaceSegments swaps the document's segment list for a post-processed
// one, discarding the buffer it subsumes. Only legal before Finalize; the
// replacement reaches disk with the finalizing write.
func (w *Writer) ReplaceSegments(segments []transcript.Segment) {
	if w.finalized {
		w.log.Error().Msg("segment replacement after finalize dropped")
		return
	}
	w.doc.Segments = segments
	w.buffer = nil
}

// Finalize flushes any remaining buffered segments and records the
// terminal status. It runs exactly once per document; this is the last
// chance to persist, so unlike batch flushes its write error is surfaced
// (after a few retries).
func (w *Writer) Finalize(audioDuration float64, status transcript.Status) error {
	if w.finalized {
		return fmt.Errorf("document already finalized")
	}
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}

	final := w.doc
	final.Segments = append(final.Segments, w.buffer...)
	final.Status = status
	final.AudioDuration = audioDuration
	final.CompletedAt = time.Now().UTC()
	final.SegmentCount = len(final.Segments)

	err := resilience.Retry(func() error {
		return w.write(final)
	}, &resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	})
	if err != nil {
		return fmt.Errorf("finalize persistence document: %w", err)
	}

	w.doc = final
	w.buffer = nil
	w.finalized = true
	return nil
}

// flush rewrites the document with all buffered segments appended. The
// in-memory state only advances on success, so a failed write leaves both
// the file and the buffer untouched.
func (w *Writer) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}

	candidate := w.doc
	candidate.Segments = append(candidate.Segments[:len(candidate.Segments):len(candidate.Segments)], w.buffer...)

	if err := w.write(candidate); err != nil {
		return err
	}

	w.doc = candidate
	w.buffer = w.buffer[:0]
	return nil
}

// write serializes the full document to one buffer and replaces the file
// contents in a single write, so a concurrent reader never observes a
// half-written document.
func (w *Writer) write(doc transcript.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		observability.RecordFlush(false)
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := w.writeFile(w.path, data, 0o644); err != nil {
		observability.RecordFlush(false)
		return fmt.Errorf("write document: %w", err)
	}
	observability.RecordFlush(true)
	return nil
}
