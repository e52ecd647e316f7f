package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// minCaptionLines rejects tracks too short to be a real subtitle.
	minCaptionLines = 5

	// minSubstantiveRatio rejects tracks where most lines are decorative
	// markers rather than speech.
	minSubstantiveRatio = 0.3

	// markerMaxLength: a line containing a decorative marker still counts
	// as substantive when it is long enough to carry actual speech.
	markerMaxLength = 20
)

// decorativeMarkers are fragments that indicate a non-speech line: music
// glyphs and bracketed section labels commonly found in auto-generated
// tracks.
var decorativeMarkers = []string{
	"♪", "♫", "[music]", "[Music]", "【音乐】", "[音乐]", "音乐", "片头", "片尾",
}

// lineIsSubstantive reports whether a caption line carries actual speech.
// A line is decorative when it contains a marker and is shorter than
// markerMaxLength characters.
func lineIsSubstantive(line string) bool {
	for _, marker := range decorativeMarkers {
		if strings.Contains(line, marker) && utf8.RuneCountInString(line) < markerMaxLength {
			return false
		}
	}
	return true
}

// validateCaptions applies the acceptance heuristics to a caption track:
// at least minCaptionLines non-empty lines, and at least
// minSubstantiveRatio of them substantive. A rejected track means the
// pipeline should fall through to speech recognition, so the returned
// error wraps ErrNoCaptions.
func validateCaptions(text string) error {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) < minCaptionLines {
		return fmt.Errorf("%w: caption track has only %d lines", ErrNoCaptions, len(lines))
	}

	substantive := 0
	for _, line := range lines {
		if lineIsSubstantive(line) {
			substantive++
		}
	}

	ratio := float64(substantive) / float64(len(lines))
	if ratio < minSubstantiveRatio {
		return fmt.Errorf("%w: only %.0f%% of caption lines are substantive", ErrNoCaptions, ratio*100)
	}

	return nil
}
