package embedding

import (
	"context"
	"errors"

	"github.com/docsage/docsage/pkg/types"
)

// Common errors returned by embedding providers.
var (
	ErrEmptyInput    = errors.New("empty input text")
	ErrMismatch      = errors.New("embedding count does not match input count")
	ErrTimeout       = errors.New("embedding batch timed out")
	ErrInvalidVector = errors.New("embedding contains NaN or Inf")
	ErrEncoding      = errors.New("embedding model failed to encode input")
)

// Prefixes required by asymmetric dense models. Queries and passages
// must be encoded with different instructions.
const (
	QueryPrefix   = "query: "
	PassagePrefix = "passage: "
)

// Provider defines the interface for hybrid dense+sparse embedding
// services.
type Provider interface {
	// Embed converts a single text into a hybrid vector. isQuery
	// selects the query or passage encoding variant.
	Embed(ctx context.Context, text string, isQuery bool) (types.HybridVector, error)

	// EmbedBatch converts multiple texts into hybrid vectors. The
	// result has the same length and order as the input.
	EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([]types.HybridVector, error)

	// Dimension returns the dense embedding dimension.
	Dimension() int
}
