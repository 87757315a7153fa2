package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/embshift/internal/domain"
)

func TestMemo_RepeatedTextHitsProviderOnce(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 2}}}
	m := NewMemo(inner)

	for range 3 {
		result, err := m.Embed(context.Background(), "same")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Embedding) != 2 {
			t.Fatalf("expected 2 dims, got %d", len(result.Embedding))
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.calls)
	}
	if m.ProviderCalls() != 1 {
		t.Errorf("expected ProviderCalls 1, got %d", m.ProviderCalls())
	}
}

func TestMemo_ErrorsAreNotRemembered(t *testing.T) {
	inner := &mockEmbedder{err: errors.New("provider down")}
	m := NewMemo(inner)

	if _, err := m.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	inner.err = nil
	inner.result = domain.EmbeddingResult{Embedding: []float32{1}}
	if _, err := m.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected retry to reach the provider, got %d calls", inner.calls)
	}
	if m.ProviderCalls() != 1 {
		t.Errorf("expected only the successful call counted, got %d", m.ProviderCalls())
	}
}
