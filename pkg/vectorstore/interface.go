// Package vectorstore defines the hybrid vector store contract.
package vectorstore

import (
	"context"
	"errors"

	"github.com/docsage/docsage/pkg/types"
)

// Common errors returned by store implementations.
var (
	ErrUnavailable = errors.New("vector store unavailable")
	ErrWriteFailed = errors.New("vector store write failed")
)

// Store is the hybrid dense+sparse vector index contract. Transient
// I/O is not retried here; retries live in callers.
type Store interface {
	// EnsureCollection idempotently creates the backing collection
	// with named dense and sparse vectors.
	EnsureCollection(ctx context.Context) error

	// Query performs hybrid fusion search: dense and sparse prefetch
	// combined with Reciprocal Rank Fusion, optionally narrowed by
	// the metadata filter.
	Query(ctx context.Context, vector types.HybridVector, limit int, filter types.FilterContext) ([]types.ScoredPoint, error)

	// Retrieve returns the points for the given IDs. Missing IDs are
	// silently omitted.
	Retrieve(ctx context.Context, ids []string) ([]types.Point, error)

	// Insert upserts points, batched internally. Idempotent per ID.
	Insert(ctx context.Context, points []types.Point) error

	// DeleteOld removes all points for source with ingested_at older
	// than the timestamp.
	DeleteOld(ctx context.Context, source string, timestamp int64) error

	// Close releases resources.
	Close() error
}
