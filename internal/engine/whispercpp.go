//go:build whispercpp

package engine

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/observability"
	"github.com/openscribe/transcriber/internal/transcript"
)

// NativeAvailable reports whether the whisper.cpp backend is compiled in.
func NativeAvailable() bool { return true }

// WhisperEngine drives a whisper.cpp model through its Go bindings.
type WhisperEngine struct {
	model whisper.Model
	log   zerolog.Logger
}

// NewWhisperEngine loads a whisper model from the given path. The caller
// must Close the engine when done.
func NewWhisperEngine(modelPath string, log zerolog.Logger) (Engine, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load whisper model %q: %w", modelPath, err)
	}
	return &WhisperEngine{model: model, log: log}, nil
}

// Close releases the model resources.
func (e *WhisperEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe starts inference and returns a lazy segment stream. The
// inference runs on a producer goroutine feeding a bounded channel; the
// context is observed before each encoder pass, so cancelling it aborts
// the run at the next natural boundary.
func (e *WhisperEngine) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, Metadata, error) {
	samples, duration, err := loadWAV(audioPath)
	if err != nil {
		return nil, Metadata{}, err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("engine: create whisper context: %w", err)
	}

	lang := opts.Language
	if lang == "" && e.model.IsMultilingual() {
		lang = "auto"
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return nil, Metadata{}, fmt.Errorf("engine: set language %q: %w", lang, err)
		}
	}
	wctx.SetTranslate(false)
	wctx.SetThreads(uint(runtime.NumCPU()))
	wctx.SetTokenTimestamps(true)
	wctx.SetBeamSize(5)
	if prompt := opts.InitialPrompt(); prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	// whisper.cpp exposes no direct VAD window controls; approximate the
	// presets with the segment-length knobs it does have. Natural mode
	// caps segment length and splits on word boundaries; sentence mode
	// leaves segments as long as the decoder produces them.
	preset := PresetFor(opts.Mode)
	if opts.Mode == ModeNatural {
		wctx.SetSplitOnWord(true)
		wctx.SetMaxSegmentLength(uint(60))
	}
	e.log.Debug().Str("mode", string(opts.Mode)).
		Dur("min_silence", preset.MinSilence).Dur("speech_pad", preset.SpeechPad).
		Msg("segmentation preset resolved")

	ws := newWhisperStream(ctx, e.log)
	go ws.run(wctx, samples)

	return ws, Metadata{Language: lang, Duration: duration}, nil
}

type streamItem struct {
	seg transcript.Segment
	err error
}

// whisperStream adapts whisper.cpp's push-style segment callback into the
// pull-based Stream contract via a bounded channel.
type whisperStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	items  chan streamItem
	log    zerolog.Logger
}

func newWhisperStream(ctx context.Context, log zerolog.Logger) *whisperStream {
	sctx, cancel := context.WithCancel(ctx)
	return &whisperStream{
		ctx:    sctx,
		cancel: cancel,
		items:  make(chan streamItem, 8),
		log:    log,
	}
}

// run executes inference on the producer side and closes the item channel
// when the sequence is exhausted.
func (s *whisperStream) run(wctx whisper.Context, samples []float32) {
	defer close(s.items)

	encoderBegin := func() bool {
		return s.ctx.Err() == nil
	}

	onSegment := func(raw whisper.Segment) {
		seg, err := convertSegment(raw)
		if err != nil {
			// One bad segment must not abort an otherwise-successful
			// multi-hour run.
			observability.RecordSkippedSegment()
			s.log.Warn().Err(err).Int("segment", raw.Num).Msg("skipping unconvertible segment")
			return
		}
		select {
		case s.items <- streamItem{seg: seg}:
		case <-s.ctx.Done():
		}
	}

	if err := wctx.Process(samples, encoderBegin, onSegment, nil); err != nil && s.ctx.Err() == nil {
		select {
		case s.items <- streamItem{err: fmt.Errorf("engine: process audio: %w", err)}:
		case <-s.ctx.Done():
		}
	}
}

// Next returns the next segment, io.EOF at the end of the sequence, or
// the engine's fatal error.
func (s *whisperStream) Next() (transcript.Segment, error) {
	select {
	case item, ok := <-s.items:
		if !ok {
			return transcript.Segment{}, io.EOF
		}
		return item.seg, item.err
	case <-s.ctx.Done():
		return transcript.Segment{}, s.ctx.Err()
	}
}

// Close aborts the producer and drains any in-flight items.
func (s *whisperStream) Close() error {
	s.cancel()
	for range s.items {
	}
	return nil
}

// convertSegment turns one raw whisper.cpp segment into the domain model.
func convertSegment(raw whisper.Segment) (transcript.Segment, error) {
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return transcript.Segment{}, fmt.Errorf("segment %d has no text", raw.Num)
	}
	if raw.End < raw.Start {
		return transcript.Segment{}, fmt.Errorf("segment %d has negative duration", raw.Num)
	}

	var words []transcript.Word
	for _, tok := range raw.Tokens {
		tokText := strings.TrimSpace(tok.Text)
		// Marker tokens like [_BEG_] carry no speech.
		if tokText == "" || strings.HasPrefix(tokText, "[_") {
			continue
		}
		words = append(words, transcript.Word{
			Text:       tokText,
			Start:      tok.Start.Seconds(),
			End:        tok.End.Seconds(),
			Confidence: float64(tok.P),
		})
	}

	return transcript.Segment{
		ID:        transcript.NewSegmentID(),
		StartTime: raw.Start.Seconds(),
		EndTime:   raw.End.Seconds(),
		Text:      text,
		Words:     words,
	}, nil
}
