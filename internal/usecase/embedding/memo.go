package embedding

import (
	"context"
	"sync"

	"github.com/kailas-cloud/embshift/internal/domain"
)

// Memo remembers embeddings for the lifetime of one workflow run.
// Repeated texts hit the provider once.
type Memo struct {
	inner domain.Embedder

	mu    sync.Mutex
	cache map[string][]float32
	calls int
}

// NewMemo wraps inner.
func NewMemo(inner domain.Embedder) *Memo {
	return &Memo{inner: inner, cache: make(map[string][]float32)}
}

// Embed returns a remembered vector or calls inner.
func (m *Memo) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	vec, ok := m.cache[text]
	m.mu.Unlock()
	if ok {
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	result, err := m.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err //nolint:wrapcheck // transparent decorator
	}

	m.mu.Lock()
	m.cache[text] = result.Embedding
	m.calls++
	m.mu.Unlock()
	return result, nil
}

// ProviderCalls returns how many texts reached the inner embedder.
func (m *Memo) ProviderCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
