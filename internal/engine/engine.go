// Package engine adapts the speech-recognition backend into a lazy,
// cancellable sequence of time-aligned segments.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/transcript"
)

// ErrEngineUnavailable is returned when the native whisper backend is not
// compiled in (build without the whispercpp tag).
var ErrEngineUnavailable = errors.New("engine: native whisper backend not available in this build")

// SegmentationMode selects how aggressively the engine splits speech.
type SegmentationMode string

const (
	// ModeNatural favors short segments: short silence threshold, small
	// padding.
	ModeNatural SegmentationMode = "natural"

	// ModeSentence favors long segments to reduce the fragment count
	// before post-processing.
	ModeSentence SegmentationMode = "sentence"
)

// ParseMode maps a CLI/config string onto a SegmentationMode, defaulting
// to natural.
func ParseMode(raw string) SegmentationMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModeSentence)) {
		return ModeSentence
	}
	return ModeNatural
}

// VADPreset is a fixed voice-activity-detection parameter set.
type VADPreset struct {
	MinSilence time.Duration // silence that ends a segment
	SpeechPad  time.Duration // padding kept around detected speech
	MinSpeech  time.Duration // shortest emitted speech span
	MaxSegment time.Duration // longest single segment
}

// PresetFor returns the VAD preset for a segmentation mode.
func PresetFor(mode SegmentationMode) VADPreset {
	if mode == ModeSentence {
		return VADPreset{
			MinSilence: 2 * time.Second,
			SpeechPad:  400 * time.Millisecond,
			MinSpeech:  500 * time.Millisecond,
			MaxSegment: 60 * time.Second,
		}
	}
	return VADPreset{
		MinSilence: 500 * time.Millisecond,
		SpeechPad:  200 * time.Millisecond,
	}
}

// Options configures one transcription.
type Options struct {
	// Vocabulary biases recognition toward known terms; it is joined into
	// a single priming prompt with no validation beyond trimming.
	Vocabulary []string

	// Mode selects the VAD preset.
	Mode SegmentationMode

	// Language forces a language code; empty means auto-detect.
	Language string

	// Device is the resolved compute selection.
	Device device.Selection
}

// InitialPrompt joins the vocabulary hint into the engine priming string.
func (o Options) InitialPrompt() string {
	parts := make([]string, 0, len(o.Vocabulary))
	for _, v := range o.Vocabulary {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// Metadata describes the audio as reported by the engine.
type Metadata struct {
	Language string
	Duration float64 // seconds
}

// Stream is a pull-based sequence of segments. Each element only costs
// compute when the caller advances, which lets the run loop interleave
// persistence, progress reporting and cancellation checks between
// elements. Next returns io.EOF after the final segment.
type Stream interface {
	Next() (transcript.Segment, error)
	Close() error
}

// Engine produces a lazy segment stream for an audio file.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Metadata, error)
	Close() error
}
