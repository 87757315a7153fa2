// Package vector holds the float32 embedding arithmetic shared by learners, shifts and evaluators.
// Accumulation happens in float64; results are narrowed back to float32.
package vector

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Zero-norm or length-mismatched inputs yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SquaredNorm returns the squared L2 norm of v.
func SquaredNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	return math.Sqrt(SquaredNorm(v))
}

// Norm64 returns the L2 norm of a float64 accumulator.
func Norm64(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Clone returns a copy of v.
func Clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// IsZero reports whether every component of v is exactly zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Narrow converts a float64 accumulator into a float32 vector.
func Narrow(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Resize truncates or zero-pads v to dim.
func Resize(v []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// Ranked is one reference ordered by similarity.
type Ranked struct {
	Index int
	Score float64
}

// Rank orders refs by cosine similarity to query, descending.
// Equal scores keep input order.
func Rank(query []float32, refs [][]float32) []Ranked {
	ranked := make([]Ranked, len(refs))
	for i, r := range refs {
		ranked[i] = Ranked{Index: i, Score: Cosine(query, r)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
