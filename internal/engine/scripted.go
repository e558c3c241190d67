package engine

import (
	"context"
	"io"
	"time"

	"github.com/openscribe/transcriber/internal/transcript"
)

// ScriptedEngine replays a fixed segment sequence. It backs tests and
// lets the pipeline run end to end on builds without the native backend.
type ScriptedEngine struct {
	Segments []transcript.Segment
	Meta     Metadata

	// StartErr, when set, fails Transcribe itself.
	StartErr error

	// FailAfter, when >= 0, injects Err (or a generic failure) as a fatal
	// stream error after that many segments have been yielded.
	FailAfter int
	Err       error

	// Delay is slept before each yielded segment, to give cancellation
	// tests a window.
	Delay time.Duration
}

// NewScriptedEngine returns an engine replaying the given segments.
func NewScriptedEngine(segments []transcript.Segment, meta Metadata) *ScriptedEngine {
	return &ScriptedEngine{Segments: segments, Meta: meta, FailAfter: -1}
}

// Transcribe returns a stream over the scripted segments.
func (e *ScriptedEngine) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Metadata, error) {
	if e.StartErr != nil {
		return nil, Metadata{}, e.StartErr
	}
	return &scriptedStream{engine: e, ctx: ctx}, e.Meta, nil
}

// Close is a no-op.
func (e *ScriptedEngine) Close() error { return nil }

type scriptedStream struct {
	engine *ScriptedEngine
	ctx    context.Context
	pos    int
}

func (s *scriptedStream) Next() (transcript.Segment, error) {
	if err := s.ctx.Err(); err != nil {
		return transcript.Segment{}, err
	}
	if s.engine.Delay > 0 {
		select {
		case <-time.After(s.engine.Delay):
		case <-s.ctx.Done():
			return transcript.Segment{}, s.ctx.Err()
		}
	}
	if s.engine.FailAfter >= 0 && s.pos == s.engine.FailAfter {
		if s.engine.Err != nil {
			return transcript.Segment{}, s.engine.Err
		}
		return transcript.Segment{}, io.ErrUnexpectedEOF
	}
	if s.pos >= len(s.engine.Segments) {
		return transcript.Segment{}, io.EOF
	}
	seg := s.engine.Segments[s.pos]
	s.pos++
	return seg, nil
}

func (s *scriptedStream) Close() error { return nil }
