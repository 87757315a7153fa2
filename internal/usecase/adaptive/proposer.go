package adaptive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/usecase/embedding"
)

// TextPair is a query/answer pair before embedding.
type TextPair struct {
	ID     string
	Query  string
	Answer string
}

// Proposer embeds text pairs and ranks the training-backed, delta-mean and
// multiplicative candidates of a workflow.
type Proposer struct {
	queries    domain.Embedder
	answers    domain.Embedder
	loader     ResultLoader
	dim        int
	controller *Controller
	logger     *zap.Logger
}

// NewProposer creates a proposer. queries embeds query texts, answers embeds answer
// texts (the document side). dim is the embedding dimension.
func NewProposer(
	queries, answers domain.Embedder,
	loader ResultLoader,
	dim int,
	controller *Controller,
	logger *zap.Logger,
) *Proposer {
	return &Proposer{
		queries:    queries,
		answers:    answers,
		loader:     loader,
		dim:        dim,
		controller: controller,
		logger:     logger,
	}
}

// Propose returns the top k candidates for workflow over pairs.
func (p *Proposer) Propose(ctx context.Context, workflow string, pairs []TextPair, k int) ([]Scored, error) {
	if workflow == "" {
		return nil, fmt.Errorf("%w: workflow name is required", domain.ErrInvalidArgument)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no pairs to evaluate", domain.ErrInvalidArgument)
	}

	queryMemo := embedding.NewMemo(p.queries)
	answerMemo := embedding.NewMemo(p.answers)
	embedded := make([]Pair, len(pairs))
	for i, tp := range pairs {
		q, err := queryMemo.Embed(ctx, tp.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query of pair %s: %w", tp.ID, err)
		}
		a, err := answerMemo.Embed(ctx, tp.Answer)
		if err != nil {
			return nil, fmt.Errorf("embed answer of pair %s: %w", tp.ID, err)
		}
		embedded[i] = Pair{ID: tp.ID, Query: q.Embedding, Answer: a.Embedding}
	}

	gen := NewComposite(
		NewTrainingBacked(p.loader, workflow, p.dim, WithLogger(p.logger)),
		DeltaMean{},
		Multiplicative{},
	).WithDedup()

	scored, err := p.controller.Propose(ctx, gen, embedded, k)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(scored))
	for i, s := range scored {
		names[i] = s.Shift.Name()
	}
	p.logger.Info("Shift candidates proposed",
		zap.String("workflow", workflow),
		zap.Int("pairs", len(pairs)),
		zap.Strings("top", names),
		zap.Int("provider_calls", queryMemo.ProviderCalls()+answerMemo.ProviderCalls()),
	)
	return scored, nil
}
