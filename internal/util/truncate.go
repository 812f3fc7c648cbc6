package util

import "fmt"

// DefaultLogMaxLen caps error and body excerpts in log lines. The full
// payloads live in the request-log store when capture is on.
const DefaultLogMaxLen = 1024

// TruncateLog shortens s to maxLen and appends the original size so the
// log line says how much was cut.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return fmt.Sprintf("%s... [truncated, %d bytes total]", s[:maxLen], len(s))
}
