package runs

import (
	"fmt"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
)

// Best is the selected run with its metric value.
type Best struct {
	Run   run.Discovered
	Score float64
}

// SelectBest picks the run with the highest value of metric. Ties go to the more recent
// FinishedUtc, then to the greater RunId. Runs without the metric are excluded.
func SelectBest(discovered []run.Discovered, metric string) (Best, error) {
	if metric == "" {
		return Best{}, fmt.Errorf("%w: metric key is required", domain.ErrInvalidArgument)
	}
	if len(discovered) == 0 {
		return Best{}, domain.ErrNoRuns
	}

	var best Best
	found := false
	for _, d := range discovered {
		score, ok := d.Artifact.Metric(metric)
		if !ok {
			continue
		}
		if !found || better(d, score, best) {
			best = Best{Run: d, Score: score}
			found = true
		}
	}
	if !found {
		return Best{}, fmt.Errorf("%w: %s across %d runs", domain.ErrMetricNotFound, metric, len(discovered))
	}
	return best, nil
}

func better(d run.Discovered, score float64, cur Best) bool {
	if score != cur.Score {
		return score > cur.Score
	}
	a, b := d.Artifact.FinishedUtc, cur.Run.Artifact.FinishedUtc
	if !a.Equal(b) {
		return a.After(b)
	}
	return d.Artifact.RunID > cur.Run.Artifact.RunID
}
