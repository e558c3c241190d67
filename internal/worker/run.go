// Package worker implements the transcription run loop shared by the
// in-process strategy and the isolated worker binary: resolve a device,
// drive the engine's lazy segment stream, persist incrementally, and
// finalize with a terminal status no matter how the run ends.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/engine"
	"github.com/openscribe/transcriber/internal/observability"
	"github.com/openscribe/transcriber/internal/stream"
	"github.com/openscribe/transcriber/internal/transcript"
)

// segmentEmitEvery throttles segment notifications: the first segment and
// every tenth one thereafter are reported.
const segmentEmitEvery = 10

// Reporter receives progress from a running worker. Implementations turn
// these calls into supervisor events or protocol messages.
type Reporter interface {
	Stage(stage string, progress float64, message string)
	DeviceResolved(sel device.Selection)
	SegmentEmitted(num int, seg transcript.Segment)
	Log(level, message string)
}

// RunError is a stage-aware run failure.
type RunError struct {
	Stage string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Params describes one transcription request.
type Params struct {
	AudioPath        string
	OutputPath       string
	Model            string
	DevicePreference device.Preference
	Mode             engine.SegmentationMode
	Vocabulary       []string
}

// Outcome summarizes a finished run. Status is always terminal;
// OutputPath is empty only when persistence could not even be
// initialized, the sole case with no recoverable artifact.
type Outcome struct {
	Status        transcript.Status
	OutputPath    string
	SegmentCount  int
	WordCount     int
	AudioDuration float64
	Elapsed       time.Duration
}

// Runner executes transcription runs.
type Runner struct {
	Engine    engine.Engine
	Selector  *device.Selector
	BatchSize int
	Log       zerolog.Logger
}

// Run executes one transcription. Cancellation is observed between pulls
// of the segment stream: the segment in flight finishes, the document is
// finalized as cancelled, and no further segments are appended. Every
// path out of this function leaves the persistence document in a terminal
// status, except a failure to create it in the first place.
func (r *Runner) Run(ctx context.Context, p Params, rep Reporter) (Outcome, error) {
	started := time.Now()
	rep.Stage("init", 0, "starting transcription")

	sel := r.Selector.Select(p.DevicePreference)
	observability.RecordDeviceSelection(sel.Device)
	rep.DeviceResolved(sel)
	rep.Stage("device", 5, fmt.Sprintf("using %s", sel))

	metrics := observability.NewRunMetrics()
	outcome := Outcome{Status: transcript.StatusError}
	defer func() {
		metrics.RecordEnd(string(outcome.Status))
	}()

	rep.Stage("prepare", 18, "preparing transcription")
	writer, err := stream.Open(p.OutputPath, p.AudioPath, p.Model, r.BatchSize, r.Log)
	if err != nil {
		// No artifact exists; nothing to recover.
		return outcome, &RunError{Stage: "prepare", Err: err}
	}
	outcome.OutputPath = writer.Path()

	if len(p.Vocabulary) > 0 {
		rep.Stage("prepare", 19, fmt.Sprintf("using %d vocabulary words", len(p.Vocabulary)))
	}

	segs, meta, err := r.Engine.Transcribe(ctx, p.AudioPath, engine.Options{
		Vocabulary: p.Vocabulary,
		Mode:       p.Mode,
		Device:     sel,
	})
	if err != nil {
		r.finalize(writer, 0, transcript.StatusError)
		return outcome, &RunError{Stage: "transcribe", Err: err}
	}
	defer segs.Close()

	if meta.Duration > 0 {
		rep.Stage("transcribe", 20, fmt.Sprintf(
			"transcribing %.1f min of audio (est. %.0fs)",
			meta.Duration/60,
			device.EstimateTranscriptionTime(meta.Duration, p.Model, sel.Device),
		))
	} else {
		rep.Stage("transcribe", 20, "transcribing")
	}

	var (
		collected   []transcript.Segment
		wordCount   int
		lastEndTime float64
	)

	for {
		// Cancellation is only acted on here and at flush boundaries; a
		// request in between is deferred until the current segment
		// finishes.
		if ctx.Err() != nil {
			return r.cancelOutcome(writer, &outcome, meta, lastEndTime, collected, wordCount, started)
		}

		seg, err := segs.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return r.cancelOutcome(writer, &outcome, meta, lastEndTime, collected, wordCount, started)
		}
		if err != nil {
			r.finalize(writer, meta.Duration, transcript.StatusError)
			outcome.SegmentCount = len(collected)
			outcome.WordCount = wordCount
			return outcome, &RunError{Stage: "transcribe", Err: err}
		}

		writer.Append(seg)
		collected = append(collected, seg)
		wordCount += len(seg.Words)
		lastEndTime = seg.EndTime
		observability.RecordSegment()

		num := len(collected)
		if num == 1 || num%segmentEmitEvery == 0 {
			rep.SegmentEmitted(num, seg)
			rep.Stage("transcribe", transcribeProgress(seg.EndTime, meta.Duration),
				fmt.Sprintf("segment %d: %.1fs - %.1fs", num, seg.StartTime, seg.EndTime))
		}
	}

	if p.Mode == engine.ModeSentence {
		merged := transcript.MergeFragments(collected)
		if delta := len(collected) - len(merged); delta > 0 {
			rep.Log("info", fmt.Sprintf("merged %d sentence fragments (%d -> %d segments)",
				delta, len(collected), len(merged)))
		}
		writer.ReplaceSegments(merged)
		collected = merged
	}

	audioDuration := meta.Duration
	if audioDuration == 0 {
		audioDuration = lastEndTime
	}

	if err := writer.Finalize(audioDuration, transcript.StatusComplete); err != nil {
		// The last chance to persist failed; this one is surfaced.
		return outcome, &RunError{Stage: "finalize", Err: err}
	}

	rep.Stage("complete", 100, "transcription complete")

	outcome.Status = transcript.StatusComplete
	outcome.SegmentCount = len(collected)
	outcome.WordCount = wordCount
	outcome.AudioDuration = audioDuration
	outcome.Elapsed = time.Since(started)
	return outcome, nil
}

// cancelOutcome finalizes a cancelled run. The partial document is fully
// valid and recoverable.
func (r *Runner) cancelOutcome(
	w *stream.Writer,
	outcome *Outcome,
	meta engine.Metadata,
	lastEndTime float64,
	collected []transcript.Segment,
	wordCount int,
	started time.Time,
) (Outcome, error) {
	duration := meta.Duration
	if duration == 0 {
		duration = lastEndTime
	}
	r.finalize(w, duration, transcript.StatusCancelled)

	outcome.Status = transcript.StatusCancelled
	outcome.SegmentCount = len(collected)
	outcome.WordCount = wordCount
	outcome.AudioDuration = duration
	outcome.Elapsed = time.Since(started)
	return *outcome, nil
}

// finalize records a terminal status, logging rather than propagating the
// error on the already-failing paths that call it.
func (r *Runner) finalize(w *stream.Writer, audioDuration float64, status transcript.Status) {
	if err := w.Finalize(audioDuration, status); err != nil {
		r.Log.Error().Err(err).Str("status", string(status)).
			Msg("failed to finalize persistence document")
	}
}

// transcribeProgress maps a segment end time into the 20-95 progress band.
func transcribeProgress(endTime, audioDuration float64) float64 {
	if audioDuration <= 0 {
		return 50
	}
	p := 20 + 75*(endTime/audioDuration)
	if p > 95 {
		p = 95
	}
	return p
}
