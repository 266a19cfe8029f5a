package types

// Chunk is a unit of retrievable text produced by the extraction
// pipeline, carrying per-source metadata.
type Chunk struct {
	// Text is the chunk content
	Text string

	// Source is the origin identifier (URL or filename)
	Source string

	// Domain is a lowercased classification label
	Domain string

	// Topic is a lowercased classification label
	Topic string

	// ChunkIndex is the 0-based position within the source after chunking
	ChunkIndex int

	// IngestedAt is the write timestamp in seconds since epoch
	IngestedAt int64
}

// Point is a stored vector record. One-to-one with Chunk.
type Point struct {
	// ID is the deterministic UUID derived from (text, source)
	ID string

	// Vector is the hybrid dense+sparse representation
	Vector HybridVector

	// Payload carries the chunk metadata
	Payload Chunk
}

// NewPoint creates a Point for a chunk with its hybrid vector.
func NewPoint(id string, vector HybridVector, payload Chunk) *Point {
	return &Point{
		ID:      id,
		Vector:  vector,
		Payload: payload,
	}
}

// Clone creates a deep copy of the point.
func (p *Point) Clone() *Point {
	return &Point{
		ID:      p.ID,
		Vector:  p.Vector.Clone(),
		Payload: p.Payload,
	}
}

// ScoredPoint is a Point augmented with a similarity score from hybrid
// search and an optional rerank score.
type ScoredPoint struct {
	Point

	// Score is the fusion score from the vector store query
	Score float32

	// RerankScore is set by the cross-encoder pass
	RerankScore float32

	// Reranked reports whether RerankScore is meaningful
	Reranked bool
}

// FilterContext narrows retrieval by metadata. Empty fields mean
// unfiltered on that axis.
type FilterContext struct {
	Domain string
	Topic  string
}

// IsZero reports whether no filter is set.
func (f FilterContext) IsZero() bool {
	return f.Domain == "" && f.Topic == ""
}

// Citation identifies a source chunk referenced by an answer.
type Citation struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// IngestResult summarizes one ingest run.
type IngestResult struct {
	ChunksProcessed int `json:"chunks_processed"`
	New             int `json:"new"`
	Updated         int `json:"updated"`
}
