package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// assembleTranscript merges recognized segments into the final text,
// inserting a speaker-change marker whenever diarization reports a new
// speaker. Runs of three or more blank lines are collapsed to one.
func assembleTranscript(segments []Segment) string {
	var parts []string
	lastSpeaker := -1

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.SpeakerID != nil {
			if *seg.SpeakerID != lastSpeaker {
				parts = append(parts, fmt.Sprintf("\n[Speaker %d]\n%s", *seg.SpeakerID+1, text))
				lastSpeaker = *seg.SpeakerID
			} else {
				parts = append(parts, text)
			}
		} else {
			parts = append(parts, text)
		}
	}

	text := strings.Join(parts, "\n")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// assembleTimedTranscript renders the segments with [mm:ss] timestamps,
// one line per segment. Returns "" when no segment carries timing data.
func assembleTimedTranscript(segments []Segment) string {
	var b strings.Builder
	timed := false

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.BeginMS > 0 || seg.EndMS > 0 {
			timed = true
		}
		totalSeconds := seg.BeginMS / 1000
		fmt.Fprintf(&b, "[%02d:%02d] %s\n", totalSeconds/60, totalSeconds%60, text)
	}

	if !timed {
		return ""
	}
	return strings.TrimSpace(b.String())
}
