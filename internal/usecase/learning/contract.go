package learning

import (
	"context"

	"github.com/kailas-cloud/embshift/internal/domain"
)

// Embedder vectorizes training query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
