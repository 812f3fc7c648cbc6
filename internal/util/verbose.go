package util

import "os"

// IsVerbose reports whether payload-level debug logging is on.
func IsVerbose() bool {
	v := os.Getenv("AGPROXY_VERBOSE")
	return v == "1" || v == "true"
}
