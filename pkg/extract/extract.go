// Package extract turns URLs and PDF files into cleaned text chunks
// ready for ingestion.
package extract

import (
	"errors"
	"fmt"
)

// Common extraction errors.
var (
	ErrInvalidURL   = errors.New("invalid source URL")
	ErrTimeout      = errors.New("source fetch timed out")
	ErrEmptyContent = errors.New("source produced no content")
	ErrNoChunks     = errors.New("cleaner produced no chunks")
)

// FetchError reports a non-success HTTP status while fetching a
// source.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: status %d", e.URL, e.Status)
}

// Chunking parameters.
const (
	// MinChunkLen drops fragments too short to be retrievable.
	MinChunkLen = 80

	// MaxChunkLen is the hard upper bound per chunk.
	MaxChunkLen = 1500

	// SplitTarget is the window used when splitting oversized text.
	SplitTarget = 1000

	// SplitOverlap is how much consecutive windows overlap.
	SplitOverlap = 100
)
