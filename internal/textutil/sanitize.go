package textutil

import (
	"strconv"
	"strings"
)

// CameraSeparator stands in for "/" when a camera identifier travels as a
// single path segment.
const CameraSeparator = "___"

// EscapeSegment encodes a camera identifier as one path segment.
func EscapeSegment(value string) string {
	return strings.ReplaceAll(value, "/", CameraSeparator)
}

// UnescapeSegment reverses EscapeSegment.
func UnescapeSegment(value string) string {
	return strings.ReplaceAll(value, CameraSeparator, "/")
}

// ValidSegment reports whether value can be used as a directory name after
// escaping. Empty names, dot segments, and names carrying a backslash or NUL
// are rejected.
func ValidSegment(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || value == "." || value == ".." {
		return false
	}
	return !strings.ContainsAny(value, "\\\x00")
}

// FormatTimestamp renders a timestamp in the shortest form that parses back
// to the same float64. It is used for file names and cache keys.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

// ParseTimestamp parses a timestamp path or query value.
func ParseTimestamp(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}
