package pipeline

import (
	"strconv"
	"strings"
	"time"
)

// Clean strips every byte outside the printable ASCII range (0x20-0x7E).
// Cleaning an already-clean string returns it unchanged.
func Clean(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x20 && s[i] <= 0x7E {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// CoerceNumber parses cleaned text as a number. Anything that does not
// parse becomes nil; an absent value and a malformed one are
// indistinguishable downstream.
func CoerceNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// timestampLayouts are tried in order. Source exports are inconsistent
// about the date/time separator and whether a zone is present.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// CoerceTimestamp parses cleaned text as a UTC timestamp, nil on failure.
func CoerceTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
