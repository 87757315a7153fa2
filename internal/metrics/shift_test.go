package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSink_SetsEvaluationGauge(t *testing.T) {
	Sink{}.Report("ndcg@3.delta", 0.25)

	got := testutil.ToFloat64(EvaluationScore.WithLabelValues("ndcg@3", "delta"))
	if got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
}

func TestSink_IgnoresNamesWithoutRole(t *testing.T) {
	before := testutil.CollectAndCount(EvaluationScore)
	Sink{}.Report("mrr", 1)
	Sink{}.Report(".x", 1)
	if after := testutil.CollectAndCount(EvaluationScore); after != before {
		t.Errorf("expected no new series, got %d -> %d", before, after)
	}
}
