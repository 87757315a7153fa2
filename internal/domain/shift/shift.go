// Package shift models correction transforms applied to query embeddings.
package shift

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/embshift/internal/domain/vector"
)

// Query is the per-call context handed to a shift: the query identifier travels
// with the vector instead of living in ambient state.
type Query struct {
	ID     string
	Vector []float32
}

// Shift transforms a query embedding. Apply never mutates q.Vector.
type Shift interface {
	Name() string
	Apply(q Query) []float32
}

// Keyed is implemented by shifts that declare their own identity for de-duplication.
type Keyed interface {
	Key() string
}

// Dimensioned is implemented by shifts bound to a fixed embedding dimension.
type Dimensioned interface {
	Dim() int
}

// Kind names a shift variant.
type Kind string

// Shift variants.
const (
	KindIdentity       Kind = "identity"
	KindAdditive       Kind = "additive"
	KindMultiplicative Kind = "multiplicative"
	KindLearned        Kind = "learned_additive"
)

// Identity leaves embeddings unchanged. It is the no-op baseline.
type Identity struct{}

// Name returns "identity".
func (Identity) Name() string { return string(KindIdentity) }

// Key returns the declared identity.
func (Identity) Key() string { return string(KindIdentity) }

// Apply returns a copy of the query vector.
func (Identity) Apply(q Query) []float32 { return vector.Clone(q.Vector) }

// Additive adds a bias vector.
type Additive struct {
	name string
	bias []float32
}

// NewAdditive creates an additive shift. The bias is copied.
func NewAdditive(name string, bias []float32) *Additive {
	if name == "" {
		name = string(KindAdditive)
	}
	return &Additive{name: name, bias: vector.Clone(bias)}
}

// Name returns the shift name.
func (a *Additive) Name() string { return a.name }

// Dim returns the bias dimension.
func (a *Additive) Dim() int { return len(a.bias) }

// Bias returns a copy of the bias vector.
func (a *Additive) Bias() []float32 { return vector.Clone(a.bias) }

// Apply returns q + bias. A bias of a different dimension leaves the vector unchanged;
// evaluators reject that combination before scoring.
func (a *Additive) Apply(q Query) []float32 {
	out := vector.Clone(q.Vector)
	if len(out) != len(a.bias) {
		return out
	}
	for i := range out {
		out[i] += a.bias[i]
	}
	return out
}

// Multiplicative scales each dimension by a factor.
type Multiplicative struct {
	name    string
	factors []float32
}

// NewMultiplicative creates a multiplicative shift. The factors are copied.
func NewMultiplicative(name string, factors []float32) *Multiplicative {
	if name == "" {
		name = string(KindMultiplicative)
	}
	return &Multiplicative{name: name, factors: vector.Clone(factors)}
}

// Name returns the shift name.
func (m *Multiplicative) Name() string { return m.name }

// Dim returns the factor dimension.
func (m *Multiplicative) Dim() int { return len(m.factors) }

// Factors returns a copy of the factors.
func (m *Multiplicative) Factors() []float32 { return vector.Clone(m.factors) }

// Apply returns q * factors elementwise.
func (m *Multiplicative) Apply(q Query) []float32 {
	out := vector.Clone(q.Vector)
	if len(out) != len(m.factors) {
		return out
	}
	for i := range out {
		out[i] *= m.factors[i]
	}
	return out
}

// Learned is an additive shift whose vector came from a persisted training run.
type Learned struct {
	Additive
	source string
}

// NewLearned creates a learned additive shift for the given source workflow.
func NewLearned(source string, delta []float32) *Learned {
	return &Learned{
		Additive: Additive{name: "learned:" + source, bias: vector.Clone(delta)},
		source:   source,
	}
}

// Source returns the workflow the delta was learned by.
func (l *Learned) Source() string { return l.source }

// Key returns the declared identity.
func (l *Learned) Key() string { return string(KindLearned) + ":" + l.source }

// Fingerprint returns the de-duplication key of s: its declared Key when present,
// otherwise the variant plus a hash of its parameters.
func Fingerprint(s Shift) string {
	if k, ok := s.(Keyed); ok {
		return k.Key()
	}
	switch v := s.(type) {
	case *Additive:
		return fmt.Sprintf("%s:%016x", KindAdditive, hashFloats(v.bias))
	case *Multiplicative:
		return fmt.Sprintf("%s:%016x", KindMultiplicative, hashFloats(v.factors))
	default:
		return fmt.Sprintf("%T:%s", s, s.Name())
	}
}

func hashFloats(v []float32) uint64 {
	d := xxhash.New()
	var buf [4]byte
	for _, x := range v {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
