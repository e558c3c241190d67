// The isolated transcription worker. It runs one transcription to a
// terminal status and exits; the OS reclaims every native resource on
// exit, so a crash in device teardown can never take the host down.
//
// Usage:
//
//	transcribe-worker <audio_path> <output_path> [--model SIZE]
//	    [--device auto|cuda|cpu] [--segment-mode natural|sentence]
//	    [--vocabulary word,word,...]
//
// Progress is written to stdout as line-delimited JSON; logs go to
// stderr. The exit code is 0 when the persistence document reached a
// terminal status and 1 otherwise; the parent cross-checks the document
// status either way.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/config"
	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/engine"
	"github.com/openscribe/transcriber/internal/observability"
	"github.com/openscribe/transcriber/internal/protocol"
	"github.com/openscribe/transcriber/internal/recovery"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	// stdout carries the progress protocol; everything else goes to
	// stderr.
	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	emitter := protocol.NewEmitter(os.Stdout)

	positional, flagArgs := splitArgs(os.Args[1:])
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "usage: transcribe-worker <audio_path> <output_path> [options]")
		return 1
	}
	audioPath, outputPath := positional[0], positional[1]

	fs := flag.NewFlagSet("transcribe-worker", flag.ContinueOnError)
	model := fs.String("model", cfg.WhisperModel, "whisper model size")
	dev := fs.String("device", cfg.DevicePreference, "device preference (auto/cuda/cpu)")
	segmentMode := fs.String("segment-mode", cfg.SegmentMode, "segmentation mode (natural/sentence)")
	vocabulary := fs.String("vocabulary", "", "comma-separated vocabulary words")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}

	// A terminate signal is the cooperative cancellation request; the
	// run loop observes it between segments and finalizes as cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	emitter.Progress("model", 10, fmt.Sprintf("loading %s model", *model))

	eng, err := engine.NewWhisperEngine(modelPath(cfg, *model), logger)
	if err != nil {
		emitter.Error(fmt.Sprintf("load model: %v", err))
		logger.Error().Err(err).Msg("failed to load model")
		return 1
	}
	defer eng.Close()
	emitter.Progress("model", 15, "model loaded")

	runner := &worker.Runner{
		Engine:    eng,
		Selector:  device.NewSelector(nil, logger),
		BatchSize: cfg.FlushBatchSize,
		Log:       observability.Component(logger, "worker"),
	}

	outcome, runErr := runner.Run(ctx, worker.Params{
		AudioPath:        audioPath,
		OutputPath:       outputPath,
		Model:            *model,
		DevicePreference: device.ParsePreference(*dev),
		Mode:             engine.ParseMode(*segmentMode),
		Vocabulary:       splitVocabulary(*vocabulary),
	}, &protocolReporter{em: emitter, log: logger})

	if runErr != nil {
		emitter.Error(runErr.Error())
		logger.Error().Err(runErr).Msg("transcription failed")
	}
	if outcome.Status == transcript.StatusComplete {
		emitter.Complete(outcome.OutputPath, outcome.SegmentCount, outcome.WordCount,
			outcome.Elapsed.Seconds())
	}

	// The document status, not the in-memory outcome, decides the exit
	// code: 0 means a terminal status is safely on disk.
	if outcome.OutputPath != "" {
		reader := recovery.NewReader(logger)
		if status, err := reader.LoadStatus(outcome.OutputPath); err == nil && status.Terminal() {
			return 0
		}
	}
	return 1
}

// splitArgs separates positional arguments from flags so that options
// may appear after the two positionals.
func splitArgs(args []string) (positional, flags []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if !strings.Contains(a, "=") && i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return positional, flags
}

// splitVocabulary parses the comma-separated vocabulary option.
func splitVocabulary(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var words []string
	for _, w := range strings.Split(raw, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// modelPath resolves the ggml model file location.
func modelPath(cfg *config.Config, model string) string {
	if cfg.ModelPath != "" {
		return cfg.ModelPath
	}
	return filepath.Join("models", "ggml-"+model+".bin")
}

// protocolReporter turns run progress into protocol messages on stdout.
type protocolReporter struct {
	em  *protocol.Emitter
	log zerolog.Logger
}

func (r *protocolReporter) Stage(stage string, progress float64, message string) {
	r.em.Progress(stage, progress, message)
}

func (r *protocolReporter) DeviceResolved(sel device.Selection) {
	r.em.DeviceResolved("device", 5, fmt.Sprintf("resolved compute device %s", sel),
		sel.Device, sel.Precision)
}

func (r *protocolReporter) SegmentEmitted(num int, seg transcript.Segment) {
	r.em.Segment(num, seg.StartTime, seg.EndTime, seg.Text)
}

func (r *protocolReporter) Log(level, message string) {
	r.log.WithLevel(parseLevel(level)).Msg(message)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
