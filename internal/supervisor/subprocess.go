package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/openscribe/transcriber/internal/protocol"
	"github.com/openscribe/transcriber/internal/transcript"
)

// StartSubprocess runs the transcription in a fully isolated OS process.
// A crash in native device-cleanup code then terminates only the worker;
// process teardown reclaims the accelerator no matter how the worker
// dies. Progress arrives as line-delimited JSON on the worker's stdout.
func (s *Supervisor) StartSubprocess(req Request) (*Handle, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}

	args := []string{req.AudioPath, req.OutputPath,
		"--model", req.Model,
		"--device", string(req.DevicePreference),
		"--segment-mode", string(req.Mode),
	}
	if len(req.Vocabulary) > 0 {
		args = append(args, "--vocabulary", strings.Join(req.Vocabulary, ","))
	}

	cmd := exec.Command(s.workerBinary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.release()
		return nil, fmt.Errorf("attach worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.release()
		return nil, fmt.Errorf("attach worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.release()
		return nil, fmt.Errorf("start worker %s: %w", s.workerBinary, err)
	}

	h := s.newHandle()
	exited := make(chan struct{})
	h.cancel = func() {
		// Graceful terminate, then a bounded grace window before the
		// forced kill. Only the teardown is time-bounded; the run itself
		// has no wall-clock limit.
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.log.Debug().Err(err).Msg("worker terminate signal failed")
		}
		go func() {
			select {
			case <-exited:
			case <-time.After(s.grace):
				s.log.Warn().Dur("grace", s.grace).Msg("worker did not exit in time, killing")
				h.Kill()
			}
		}()
	}
	h.kill = func() {
		if err := cmd.Process.Kill(); err != nil {
			s.log.Debug().Err(err).Msg("worker kill failed")
		}
	}

	go s.superviseWorker(h, cmd, stdout, stderr, req, exited)
	return h, nil
}

// superviseWorker drains the worker's pipes, waits for exit, and decides
// the terminal outcome.
func (s *Supervisor) superviseWorker(
	h *Handle,
	cmd *exec.Cmd,
	stdout, stderr io.Reader,
	req Request,
	exited chan struct{},
) {
	defer s.release()

	var lastError string
	var sawComplete bool

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			msg, ok := protocol.Parse(line)
			if !ok {
				// Free-text output from the engine, not an error.
				h.publish(Event{Type: EventLog, Level: "info", Message: string(line)})
				continue
			}
			switch msg.Type {
			case protocol.TypeProgress:
				if msg.Device != "" {
					h.publish(Event{Type: EventDevice, Device: msg.Device, Precision: msg.Precision})
				}
				h.publish(Event{Type: EventStage, Stage: msg.Stage})
				h.publish(Event{Type: EventProgress, Stage: msg.Stage, Progress: msg.Progress, Message: msg.Message})
			case protocol.TypeSegment:
				h.publish(Event{Type: EventSegment, SegmentNum: msg.SegmentNum})
			case protocol.TypeError:
				lastError = msg.Message
			case protocol.TypeComplete:
				sawComplete = true
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			s.log.Debug().Str("worker", scanner.Text()).Msg("worker stderr")
		}
	}()

	waitErr := cmd.Wait()
	close(exited)
	wg.Wait()

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	h.finish(s.subprocessOutcome(h, req, exitCode, lastError, sawComplete))
}

// subprocessOutcome decides the terminal event. The exit code alone is
// not authoritative: a worker may crash during native teardown after
// having already written a complete, valid document, so the persisted
// status is re-read and wins whenever it says complete.
func (s *Supervisor) subprocessOutcome(h *Handle, req Request, exitCode int, lastError string, sawComplete bool) Event {
	status, statusErr := s.reader.LoadStatus(req.OutputPath)

	if statusErr == nil {
		switch status {
		case transcript.StatusComplete:
			if exitCode != 0 {
				s.log.Warn().Int("exit_code", exitCode).
					Msg("worker crashed during teardown after completing; treating run as successful")
			}
			return Event{Type: EventCompleted, ArtifactPath: req.OutputPath}
		case transcript.StatusCancelled:
			return Event{Type: EventCancelled, ArtifactPath: req.OutputPath}
		case transcript.StatusError:
			msg := lastError
			if msg == "" {
				msg = fmt.Sprintf("worker reported failure (exit code %d)", exitCode)
			}
			return Event{Type: EventError, Message: msg, ArtifactPath: req.OutputPath}
		}
	}

	// No terminal status on disk: the worker died mid-run or was killed.
	// A complete protocol message is a secondary success signal in case
	// the document became unreadable after the fact.
	if sawComplete {
		s.log.Warn().Err(statusErr).Msg("worker announced completion but document status is unreadable")
		return Event{Type: EventCompleted, ArtifactPath: req.OutputPath}
	}
	if h.cancelRequested() {
		return Event{Type: EventCancelled, ArtifactPath: req.OutputPath}
	}
	msg := lastError
	if msg == "" {
		msg = fmt.Sprintf("worker exited unexpectedly (exit code %d)", exitCode)
	}
	return Event{Type: EventError, Message: msg, ArtifactPath: req.OutputPath}
}
