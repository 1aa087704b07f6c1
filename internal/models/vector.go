package models

import "math"

// EmbeddingDim is the appearance embedding length produced by the
// embedder and stored in the warm registry.
const EmbeddingDim = 768

// NormalizeVector performs L2 normalization in-place.
func NormalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched or empty inputs.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// BlendVectors returns normalize(wNew·a + wOld·b). Used for the one-shot
// warm feature update. Returns a copy; inputs are not modified.
func BlendVectors(a, b []float32, wNew, wOld float32) []float32 {
	if len(a) == 0 {
		out := make([]float32, len(b))
		copy(out, b)
		return out
	}
	if len(b) != len(a) {
		out := make([]float32, len(a))
		copy(out, a)
		NormalizeVector(out)
		return out
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = wNew*a[i] + wOld*b[i]
	}
	NormalizeVector(out)
	return out
}
