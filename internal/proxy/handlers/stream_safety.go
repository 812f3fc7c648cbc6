package handlers

import (
	"crypto/sha256"
	"log"
)

const (
	// maxRepeatedChunks is how many identical consecutive chunks a
	// stream may emit before it is treated as a loop and cut.
	maxRepeatedChunks = 50
	// minChunkLenForCheck skips tiny chunks; single characters repeat
	// legitimately in code and tables.
	minChunkLenForCheck = 8
)

// StreamSafetyChecker cuts off upstream streams stuck emitting the same
// chunk forever. Compares chunk hashes so long chunks cost no extra
// memory.
type StreamSafetyChecker struct {
	requestID string
	lastHash  [32]byte
	repeats   int
}

// NewStreamSafetyChecker builds a checker for one stream.
func NewStreamSafetyChecker(requestID string) *StreamSafetyChecker {
	return &StreamSafetyChecker{requestID: requestID}
}

// Check records one chunk and reports whether the stream may continue.
func (c *StreamSafetyChecker) Check(chunk string) bool {
	if len(chunk) < minChunkLenForCheck {
		c.repeats = 0
		return true
	}
	h := sha256.Sum256([]byte(chunk))
	if h == c.lastHash {
		c.repeats++
		if c.repeats >= maxRepeatedChunks {
			log.Printf("🚨 [StreamSafety] %s: chunk repeated %d times, cutting stream", c.requestID, c.repeats)
			return false
		}
	} else {
		c.lastHash = h
		c.repeats = 0
	}
	return true
}
