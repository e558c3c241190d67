package transcript

// DefaultGapThreshold is the minimum silence, in seconds, reported as a
// gap by DetectGaps.
const DefaultGapThreshold = 0.5

// Gap is a stretch of audio with no recognized speech.
type Gap struct {
	StartTime      float64
	EndTime        float64
	AfterSegmentID string
}

// Duration returns the gap length in seconds.
func (g Gap) Duration() float64 {
	return g.EndTime - g.StartTime
}

// DetectGaps finds silences of at least threshold seconds between
// segments, before the first segment, and after the last one. Segments
// must be sorted by start time.
func DetectGaps(segments []Segment, audioDuration, threshold float64) []Gap {
	if len(segments) == 0 {
		if audioDuration > threshold {
			return []Gap{{StartTime: 0, EndTime: audioDuration}}
		}
		return nil
	}

	var gaps []Gap
	if segments[0].StartTime > threshold {
		gaps = append(gaps, Gap{StartTime: 0, EndTime: segments[0].StartTime})
	}
	for i := 0; i < len(segments)-1; i++ {
		cur, next := segments[i], segments[i+1]
		if next.StartTime-cur.EndTime >= threshold {
			gaps = append(gaps, Gap{
				StartTime:      cur.EndTime,
				EndTime:        next.StartTime,
				AfterSegmentID: cur.ID,
			})
		}
	}
	last := segments[len(segments)-1]
	if audioDuration-last.EndTime > threshold {
		gaps = append(gaps, Gap{
			StartTime:      last.EndTime,
			EndTime:        audioDuration,
			AfterSegmentID: last.ID,
		})
	}
	return gaps
}

// SpeakingRatio returns the speaking and gap percentages of the total
// audio duration.
func SpeakingRatio(segments []Segment, audioDuration float64) (speaking, gap float64) {
	if audioDuration <= 0 {
		return 0, 0
	}
	var speech float64
	for _, s := range segments {
		speech += s.Duration()
	}
	speaking = speech / audioDuration * 100
	return speaking, 100 - speaking
}

// WordsPerMinute returns the average speaking rate over the segments'
// combined speech time.
func WordsPerMinute(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var words int
	var speech float64
	for _, s := range segments {
		words += s.WordCount()
		speech += s.Duration()
	}
	if speech <= 0 {
		return 0
	}
	return float64(words) / (speech / 60)
}

// FindSegmentAtTime returns the segment containing the given time, or nil.
func FindSegmentAtTime(segments []Segment, seconds float64) *Segment {
	for i := range segments {
		if segments[i].StartTime <= seconds && seconds <= segments[i].EndTime {
			return &segments[i]
		}
	}
	return nil
}
