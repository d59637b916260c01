// Package store provides durable storage for articles: an atomic blob
// store for finished audio and a SQLite catalog for article metadata and
// ingestion status.
package store

import (
	"errors"
	"time"
)

// Status is an article's position in the ingestion state machine.
type Status string

const (
	StatusPending      Status = "pending"
	StatusExtracting   Status = "extracting"
	StatusSynthesizing Status = "synthesizing"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
)

// FailureCause tags a failed ingestion attempt.
type FailureCause string

const (
	CauseExtraction FailureCause = "extraction_error"
	CauseRateLimit  FailureCause = "rate_limited"
	CauseSynthesis  FailureCause = "synthesis_error"
	CauseStorage    FailureCause = "storage_error"
)

var (
	// ErrNotFound is returned when an article or blob does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrBadTransition is returned for a status change the state
	// machine does not allow.
	ErrBadTransition = errors.New("store: invalid status transition")
)

// BlobInfo describes a stored audio blob.
type BlobInfo struct {
	ByteLen  int64
	Duration time.Duration
	// Checksum is the hex SHA-256 of the blob bytes, used for
	// integrity verification when the client replicates it.
	Checksum string
}

// Article is one catalog row.
type Article struct {
	ID        string
	Title     string
	Byline    string
	SourceURL string
	// Text is the extracted plain text, kept so a failed article can be
	// re-synthesized without re-fetching its source.
	Text         string
	Chars        int
	Status       Status
	FailureCause FailureCause
	CreatedAt    time.Time
	Audio        *BlobInfo // nil until ready
}

// validTransition reports whether moving from to next is allowed.
// Transitions are monotonic except failed→pending on explicit retry.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusExtracting
	case StatusExtracting:
		return to == StatusSynthesizing || to == StatusFailed
	case StatusSynthesizing:
		return to == StatusReady || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	case StatusReady:
		return false
	default:
		return false
	}
}
