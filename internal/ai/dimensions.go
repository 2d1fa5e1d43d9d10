package ai

// DefaultDimension is the fallback for embedding models not in the table.
const DefaultDimension = 768

// modelDimensions maps embedding model names to their output vector length.
// New collections are created with the dimension of the configured model;
// unknown models get DefaultDimension.
var modelDimensions = map[string]int{
	"text-embedding-004":     768,
	"embedding-001":          768,
	"gemini-embedding-001":   3072,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// ModelDimension returns the vector length for the given embedding model.
func ModelDimension(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	return DefaultDimension
}

// FitVector forces vec to the given dimension, truncating or zero-padding
// as needed. A mismatch means the provider and the collection disagree, so
// this is a quality compromise that keeps storage consistent rather than a
// behavior to rely on.
func FitVector(vec []float32, dimension int) []float32 {
	if len(vec) == dimension {
		return vec
	}
	fitted := make([]float32, dimension)
	copy(fitted, vec)
	return fitted
}
