package types

// DenseDimension is the dimensionality of dense embeddings.
const DenseDimension = 384

// SparseVector is a term-level lexical representation encoded as
// parallel indices/values sequences. Invariant: equal length, no
// duplicate indices.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Clone creates a deep copy of the sparse vector.
func (s SparseVector) Clone() SparseVector {
	indices := make([]uint32, len(s.Indices))
	copy(indices, s.Indices)
	values := make([]float32, len(s.Values))
	copy(values, s.Values)
	return SparseVector{Indices: indices, Values: values}
}

// Coherent reports whether indices and values have equal length.
func (s SparseVector) Coherent() bool {
	return len(s.Indices) == len(s.Values)
}

// HybridVector pairs a dense embedding with a sparse lexical vector.
// Uses float32 exclusively to minimize memory footprint.
type HybridVector struct {
	// Dense is the L2-normalized 384-dim embedding
	Dense []float32

	// Sparse is the lexical vector
	Sparse SparseVector
}

// NewHybridVector creates a HybridVector from its parts.
func NewHybridVector(dense []float32, indices []uint32, values []float32) *HybridVector {
	return &HybridVector{
		Dense:  dense,
		Sparse: SparseVector{Indices: indices, Values: values},
	}
}

// Clone creates a deep copy of the vector.
func (v HybridVector) Clone() HybridVector {
	dense := make([]float32, len(v.Dense))
	copy(dense, v.Dense)
	return HybridVector{
		Dense:  dense,
		Sparse: v.Sparse.Clone(),
	}
}

// Dimension returns the dense dimensionality.
func (v HybridVector) Dimension() int {
	return len(v.Dense)
}
