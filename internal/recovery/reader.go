// Package recovery reconstructs the best-available transcript from a
// persistence document in any state: complete, cancelled, mid-run or
// crashed.
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/transcript"
)

// Candidate is a persistence document found on disk.
type Candidate struct {
	Path       string
	ModifiedAt time.Time
}

// Reader loads transcripts from persistence documents.
type Reader struct {
	log zerolog.Logger
}

// NewReader creates a recovery reader.
func NewReader(log zerolog.Logger) *Reader {
	return &Reader{log: log}
}

// ListCandidates returns the persistence documents found in the given
// directories, newest first. Directories that cannot be read are skipped.
func (r *Reader) ListCandidates(dirs []string) []Candidate {
	var candidates []Candidate
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			r.log.Debug().Err(err).Str("dir", dir).Msg("skipping unreadable directory")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			candidates = append(candidates, Candidate{
				Path:       filepath.Join(dir, entry.Name()),
				ModifiedAt: info.ModTime(),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ModifiedAt.After(candidates[j].ModifiedAt)
	})
	return candidates
}

// rawDocument defers segment decoding so that one malformed entry does
// not discard an otherwise-usable partial transcript.
type rawDocument struct {
	Version       string            `json:"version"`
	Status        transcript.Status `json:"status"`
	AudioFile     string            `json:"audio_file"`
	Model         string            `json:"model"`
	AudioDuration float64           `json:"audio_duration"`
	Segments      []json.RawMessage `json:"segments"`
}

// Load reads a persistence document and returns a fresh, independently
// owned transcript. Any status is tolerated: in_progress and error
// documents load exactly like complete ones, simply yielding fewer
// segments. Malformed individual segment entries are skipped.
func (r *Reader) Load(path string) (*transcript.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persistence document: %w", err)
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse persistence document %s: %w", path, err)
	}

	status := raw.Status
	if status == "" {
		status = transcript.StatusInProgress
	}

	segments := make([]transcript.Segment, 0, len(raw.Segments))
	skipped := 0
	for i, entry := range raw.Segments {
		var seg transcript.Segment
		if err := json.Unmarshal(entry, &seg); err != nil {
			skipped++
			r.log.Warn().Err(err).Int("index", i).Str("path", path).
				Msg("skipping malformed segment entry")
			continue
		}
		segments = append(segments, seg)
	}
	if skipped > 0 {
		r.log.Warn().Int("skipped", skipped).Int("loaded", len(segments)).
			Str("path", path).Msg("recovered transcript with corrupted entries")
	}

	duration := raw.AudioDuration
	if duration == 0 && len(segments) > 0 {
		duration = segments[len(segments)-1].EndTime
	}

	return &transcript.Transcript{
		AudioFile:     raw.AudioFile,
		AudioDuration: duration,
		Status:        status,
		Segments:      segments,
	}, nil
}

// LoadStatus reads only the status field of a persistence document. The
// supervisor uses this to decide whether a non-zero worker exit was a
// real failure or a teardown crash after the data was already safe.
func (r *Reader) LoadStatus(path string) (transcript.Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persistence document: %w", err)
	}
	var probe struct {
		Status transcript.Status `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("parse persistence document %s: %w", path, err)
	}
	if probe.Status == "" {
		return transcript.StatusInProgress, nil
	}
	return probe.Status, nil
}
