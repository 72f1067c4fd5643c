// Package chunk splits oversized outbound text into ordered, transport-safe
// segments. Concatenating the segment bodies with the trailing position
// markers stripped reproduces the original text byte for byte.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultLimit is the gateway text ceiling per message.
const DefaultLimit = 4096

// markerReserve is space kept free in every segment body for the trailing
// " (i/total)" marker, sized for up to 999 segments. Split widens it when a
// text needs more.
const markerReserve = len(" (999/999)")

// markerWidth is the byte length of the " (i/total)" marker on the widest
// segment of a split with the given total.
func markerWidth(total int) int {
	return len(fmt.Sprintf(" (%d/%d)", total, total))
}

// Split returns text unchanged as a single segment when it fits the limit.
// Otherwise it cuts greedy segments, preferring a paragraph boundary, then a
// sentence boundary, then a word boundary, then a hard character cut, and
// appends a " (i/total)" marker to each once the total is known. Every
// returned segment, marker included, fits the limit.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	// Re-cut with a wider reserve when the segment count outgrows the
	// marker space. Widening shrinks the bodies, so the count only grows
	// while the marker width does, and the loop settles within a few
	// rounds.
	reserve := markerReserve
	bodies := cut(text, limit-reserve)
	for markerWidth(len(bodies)) > reserve {
		reserve = markerWidth(len(bodies))
		bodies = cut(text, limit-reserve)
	}

	segments := make([]string, len(bodies))
	for i, body := range bodies {
		segments[i] = fmt.Sprintf("%s (%d/%d)", body, i+1, len(bodies))
	}
	return segments
}

// cut slices text into bodies of at most max bytes each, losing nothing.
func cut(text string, max int) []string {
	if max < 1 {
		max = 1
	}

	var bodies []string
	for len(text) > max {
		window := text[:max]
		at := max

		if i := strings.LastIndex(window, "\n\n"); i > max/2 {
			at = i + 2
		} else if i := lastSentenceEnd(window); i > max/2 {
			at = i
		} else if i := strings.LastIndexByte(window, ' '); i > max/2 {
			at = i + 1
		} else {
			// Hard cut; back off to a rune boundary.
			for at > 0 && !utf8.RuneStart(text[at]) {
				at--
			}
			if at == 0 {
				at = max
			}
		}

		bodies = append(bodies, text[:at])
		text = text[at:]
	}
	return append(bodies, text)
}

// lastSentenceEnd returns the index just past the last sentence terminator
// followed by whitespace, or -1.
func lastSentenceEnd(window string) int {
	best := -1
	for _, sep := range []string{". ", ".\n", "! ", "!\n", "? ", "?\n"} {
		if i := strings.LastIndex(window, sep); i >= 0 && i+len(sep) > best {
			best = i + len(sep)
		}
	}
	return best
}

// StripMarker removes the trailing " (i/total)" position marker from a
// segment, if present.
func StripMarker(segment string) string {
	end := len(segment)
	if end == 0 || segment[end-1] != ')' {
		return segment
	}
	open := strings.LastIndex(segment, " (")
	if open < 0 {
		return segment
	}
	inner := segment[open+2 : end-1]
	slash := strings.IndexByte(inner, '/')
	if slash < 1 || slash == len(inner)-1 {
		return segment
	}
	if !allDigits(inner[:slash]) || !allDigits(inner[slash+1:]) {
		return segment
	}
	return segment[:open]
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
