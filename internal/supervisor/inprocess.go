package supervisor

import (
	"context"

	"github.com/openscribe/transcriber/internal/device"
	"github.com/openscribe/transcriber/internal/engine"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/internal/worker"
)

// StartInProcess runs the transcription on a goroutine inside this
// process using the given engine. Cancellation is cooperative: the run
// loop observes it between pulls of the segment stream.
func (s *Supervisor) StartInProcess(req Request, eng engine.Engine) (*Handle, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := s.newHandle()
	h.cancel = cancel

	runner := &worker.Runner{
		Engine:    eng,
		Selector:  device.NewSelector(s.probe, s.log),
		BatchSize: s.batchSize,
		Log:       s.log,
	}

	go func() {
		defer s.release()
		defer cancel()

		outcome, err := runner.Run(ctx, worker.Params{
			AudioPath:        req.AudioPath,
			OutputPath:       req.OutputPath,
			Model:            req.Model,
			DevicePreference: req.DevicePreference,
			Mode:             req.Mode,
			Vocabulary:       req.Vocabulary,
		}, &eventReporter{h: h})

		switch outcome.Status {
		case transcript.StatusComplete:
			h.finish(Event{Type: EventCompleted, ArtifactPath: outcome.OutputPath})
		case transcript.StatusCancelled:
			h.finish(Event{Type: EventCancelled, ArtifactPath: outcome.OutputPath})
		default:
			msg := "transcription failed"
			if err != nil {
				msg = err.Error()
			}
			h.finish(Event{Type: EventError, Message: msg, ArtifactPath: outcome.OutputPath})
		}
	}()

	return h, nil
}
