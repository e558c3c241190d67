// The transcriber host CLI. It supervises a transcription run (isolated
// worker subprocess by default, in-process with -in-process), prints
// progress, and can list or recover previously persisted transcripts.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/config"
	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/engine"
	"github.com/openscribe/transcriber/internal/eventfeed"
	"github.com/openscribe/transcriber/internal/observability"
	"github.com/openscribe/transcriber/internal/recovery"
	"github.com/openscribe/transcriber/internal/supervisor"
	"github.com/openscribe/transcriber/internal/transcript"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	var (
		output      = flag.String("output", "", "output document path (default: derived from the audio file)")
		model       = flag.String("model", cfg.WhisperModel, "whisper model size")
		dev         = flag.String("device", cfg.DevicePreference, "device preference (auto/cuda/cpu)")
		segmentMode = flag.String("segment-mode", cfg.SegmentMode, "segmentation mode (natural/sentence)")
		vocabulary  = flag.String("vocabulary", "", "comma-separated vocabulary words")
		inProcess   = flag.Bool("in-process", false, "run the engine inside this process instead of an isolated worker")
		loadPath    = flag.String("load", "", "load a persisted transcript and print a summary")
		list        = flag.Bool("list", false, "list recoverable transcript documents, newest first")
	)
	flag.Parse()

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	logger.Info().Str("version", version).Msg("transcriber starting")

	reader := recovery.NewReader(logger)

	switch {
	case *list:
		return listCandidates(reader, cfg.TranscriptDir)
	case *loadPath != "":
		return loadTranscript(reader, *loadPath)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: transcriber [options] <audio_path>")
		return 1
	}
	audioPath := flag.Arg(0)
	outputPath := *output
	if outputPath == "" {
		outputPath = defaultOutputPath(cfg.TranscriptDir, audioPath)
	}

	var feed *eventfeed.Feed
	if cfg.MetricsEnabled {
		feed = startHTTPServer(cfg, logger)
	}

	sup := supervisor.New(cfg.WorkerBinary, cfg.CancelGracePeriod(), cfg.FlushBatchSize,
		observability.Component(logger, "supervisor"))
	req := supervisor.Request{
		AudioPath:        audioPath,
		OutputPath:       outputPath,
		Model:            *model,
		DevicePreference: device.ParsePreference(*dev),
		Mode:             engine.ParseMode(*segmentMode),
		Vocabulary:       splitVocabulary(*vocabulary),
	}

	var handle *supervisor.Handle
	if *inProcess {
		if !engine.NativeAvailable() {
			logger.Error().Msg("this build has no native engine; rebuild with -tags whispercpp or use the isolated worker")
			return 1
		}
		eng, err := engine.NewWhisperEngine(modelPath(cfg, *model), logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to load model")
			return 1
		}
		defer eng.Close()
		handle, err = sup.StartInProcess(req, eng)
		if err != nil {
			logger.Error().Err(err).Msg("failed to start run")
			return 1
		}
	} else {
		handle, err = sup.StartSubprocess(req)
		if err != nil {
			logger.Error().Err(err).Msg("failed to start worker")
			return 1
		}
	}

	// First interrupt cancels cooperatively; a second one escalates to a
	// forced kill.
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		logger.Info().Msg("cancellation requested, finishing current segment")
		handle.Cancel()
		<-interrupts
		logger.Warn().Msg("second interrupt, killing worker")
		handle.Kill()
	}()

	terminal := consumeEvents(handle, feed, logger)
	if feed != nil {
		feed.Close()
	}

	switch terminal.Type {
	case supervisor.EventCompleted:
		printSummary(reader, terminal.ArtifactPath)
		return 0
	case supervisor.EventCancelled:
		logger.Info().Str("artifact", terminal.ArtifactPath).
			Msg("run cancelled; partial transcript is recoverable")
		return 0
	default:
		logger.Error().Str("error", terminal.Message).Str("artifact", terminal.ArtifactPath).
			Msg("transcription failed")
		return 1
	}
}

// consumeEvents drains the run's event stream, logging progress and
// mirroring every event onto the websocket feed when one is enabled.
func consumeEvents(h *supervisor.Handle, feed *eventfeed.Feed, logger zerolog.Logger) supervisor.Event {
	var terminal supervisor.Event
	for ev := range h.Events() {
		if feed != nil {
			feed.Publish(ev)
		}
		switch ev.Type {
		case supervisor.EventStage:
			logger.Info().Str("stage", ev.Stage).Msg("stage changed")
		case supervisor.EventProgress:
			logger.Debug().Str("stage", ev.Stage).Float64("progress", ev.Progress).
				Msg(ev.Message)
		case supervisor.EventDevice:
			logger.Info().Str("device", ev.Device).Str("precision", ev.Precision).
				Msg("compute device resolved")
		case supervisor.EventSegment:
			logger.Debug().Int("segment", ev.SegmentNum).Msg("segment transcribed")
		case supervisor.EventLog:
			logger.WithLevel(parseLevel(ev.Level)).Msg(ev.Message)
		default:
			terminal = ev
		}
	}
	return terminal
}

// listCandidates prints recoverable documents, newest first.
func listCandidates(reader *recovery.Reader, dir string) int {
	candidates := reader.ListCandidates([]string{dir})
	if len(candidates) == 0 {
		fmt.Printf("no transcript documents found in %s\n", dir)
		return 0
	}
	for _, c := range candidates {
		status := "unreadable"
		if s, err := reader.LoadStatus(c.Path); err == nil {
			status = string(s)
		}
		fmt.Printf("%s  %-12s %s\n", c.ModifiedAt.Format(time.RFC3339), status, c.Path)
	}
	return 0
}

// loadTranscript recovers a document in any state and prints a summary.
func loadTranscript(reader *recovery.Reader, path string) int {
	tr, err := reader.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("audio:    %s\n", tr.AudioFile)
	fmt.Printf("status:   %s\n", tr.Status)
	fmt.Printf("segments: %d\n", tr.SegmentCount())
	fmt.Printf("words:    %d\n", tr.WordCount())
	if tr.AudioDuration > 0 {
		speaking, _ := transcript.SpeakingRatio(tr.Segments, tr.AudioDuration)
		gaps := transcript.DetectGaps(tr.Segments, tr.AudioDuration, transcript.DefaultGapThreshold)
		fmt.Printf("duration: %.1fs (%.0f%% speech, %d gaps, %.0f wpm)\n",
			tr.AudioDuration, speaking, len(gaps), transcript.WordsPerMinute(tr.Segments))
	}
	if text := tr.FullText(); text != "" {
		fmt.Printf("\n%s\n", text)
	}
	return 0
}

// printSummary prints the result of a completed run by re-reading the
// artifact, which is the source of truth.
func printSummary(reader *recovery.Reader, path string) {
	tr, err := reader.Load(path)
	if err != nil {
		fmt.Printf("transcription complete: %s\n", path)
		return
	}
	fmt.Printf("transcription complete: %s (%d segments, %d words)\n",
		path, tr.SegmentCount(), tr.WordCount())
}

// startHTTPServer serves metrics and health, plus the live event feed
// when enabled, on the configured port.
func startHTTPServer(cfg *config.Config, logger zerolog.Logger) *eventfeed.Feed {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", observability.HealthCheckHandler(version))

	var feed *eventfeed.Feed
	if cfg.EventFeedEnabled {
		feed = eventfeed.New(logger)
		mux.Handle("/events", feed)
	}

	addr := ":" + cfg.MetricsPort
	go func() {
		logger.Info().Str("addr", addr).Msg("observability server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Msg("observability server stopped")
		}
	}()
	return feed
}

// defaultOutputPath derives a document path beside other transcripts,
// keyed by audio basename and start time.
func defaultOutputPath(dir, audioPath string) string {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", base, time.Now().Format("20060102_150405")))
}

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

func modelPath(cfg *config.Config, model string) string {
	if cfg.ModelPath != "" {
		return cfg.ModelPath
	}
	return filepath.Join("models", "ggml-"+model+".bin")
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
