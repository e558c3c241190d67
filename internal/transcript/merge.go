package transcript

import (
	"regexp"
	"strings"
)

const (
	// maxMergeSpan bounds a merged run to this many original segments.
	maxMergeSpan = 5

	// maxMergeGap is the largest silence a merge may bridge, in seconds.
	// Gaps of exactly this length or longer stop absorption.
	maxMergeGap = 3.0
)

// sentenceEnd matches terminal punctuation, optionally followed by
// closing quotes.
var sentenceEnd = regexp.MustCompile(`[.!?]["']*$`)

// endsSentence reports whether trimmed text ends a sentence.
func endsSentence(text string) bool {
	return sentenceEnd.MatchString(strings.TrimSpace(text))
}

// MergeFragments merges sentence fragments into complete sentences.
//
// A segment is a fragment when its trimmed text does not end in terminal
// punctuation. Each fragment greedily absorbs the segments that follow it
// while the silence gap stays under maxMergeGap seconds and the merged run
// spans fewer than maxMergeSpan original segments, stopping early as soon
// as the combined text ends a sentence. The merged segment keeps the first
// segment's ID, start time, speaker label and bookmark flag. The input
// order is preserved and the last segment is always emitted as-is.
func MergeFragments(segments []Segment) []Segment {
	if len(segments) <= 1 {
		return segments
	}

	merged := make([]Segment, 0, len(segments))
	i := 0
	for i < len(segments) {
		current := segments[i]
		if endsSentence(current.Text) || i == len(segments)-1 {
			merged = append(merged, current)
			i++
			continue
		}

		textParts := []string{strings.TrimSpace(current.Text)}
		words := append([]Word(nil), current.Words...)
		endTime := current.EndTime

		j := i + 1
		for j < len(segments) && j-i < maxMergeSpan {
			next := segments[j]
			if next.StartTime-endTime >= maxMergeGap {
				break
			}

			textParts = append(textParts, strings.TrimSpace(next.Text))
			words = append(words, next.Words...)
			endTime = next.EndTime
			j++

			if endsSentence(strings.Join(textParts, " ")) {
				break
			}
		}

		merged = append(merged, Segment{
			ID:           current.ID,
			StartTime:    current.StartTime,
			EndTime:      endTime,
			Text:         strings.Join(textParts, " "),
			Words:        words,
			SpeakerLabel: current.SpeakerLabel,
			Bookmarked:   current.Bookmarked,
		})
		i = j
	}

	return merged
}

// MergeSegments merges two consecutive segments into one. The merged
// segment keeps the first segment's ID and speaker label.
func MergeSegments(a, b Segment) Segment {
	return Segment{
		ID:           a.ID,
		StartTime:    a.StartTime,
		EndTime:      b.EndTime,
		Text:         a.Text + " " + b.Text,
		Words:        append(append([]Word(nil), a.Words...), b.Words...),
		SpeakerLabel: a.SpeakerLabel,
		Bookmarked:   a.Bookmarked || b.Bookmarked,
	}
}

// SplitSegment splits a segment at the given time. Words are assigned by
// their timing; when word data is missing on either side, the text is
// split proportionally instead. The second part receives a fresh ID and
// never inherits the bookmark.
func SplitSegment(seg Segment, splitTime float64) (Segment, Segment) {
	var wordsBefore, wordsAfter []Word
	for _, w := range seg.Words {
		switch {
		case w.End <= splitTime:
			wordsBefore = append(wordsBefore, w)
		case w.Start >= splitTime:
			wordsAfter = append(wordsAfter, w)
		}
	}

	var textBefore, textAfter string
	if len(wordsBefore) > 0 && len(wordsAfter) > 0 {
		textBefore = joinWordTexts(wordsBefore)
		textAfter = joinWordTexts(wordsAfter)
	} else {
		fields := strings.Fields(seg.Text)
		idx := 0
		if d := seg.Duration(); d > 0 {
			idx = int(float64(len(fields)) * (splitTime - seg.StartTime) / d)
		}
		if idx < 0 {
			idx = 0
		}
		if idx > len(fields) {
			idx = len(fields)
		}
		textBefore = strings.Join(fields[:idx], " ")
		textAfter = strings.Join(fields[idx:], " ")
	}

	first := Segment{
		ID:           seg.ID,
		StartTime:    seg.StartTime,
		EndTime:      splitTime,
		Text:         textBefore,
		Words:        wordsBefore,
		SpeakerLabel: seg.SpeakerLabel,
		Bookmarked:   seg.Bookmarked,
	}
	second := Segment{
		ID:           NewSegmentID(),
		StartTime:    splitTime,
		EndTime:      seg.EndTime,
		Text:         textAfter,
		Words:        wordsAfter,
		SpeakerLabel: seg.SpeakerLabel,
	}
	return first, second
}

func joinWordTexts(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}
