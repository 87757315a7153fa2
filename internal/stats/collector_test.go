package stats

import (
	"sync"
	"testing"
)

func TestCollector_Means(t *testing.T) {
	c := NewCollector()
	c.Report("ndcg@3", 0.5)
	c.Report("ndcg@3", 0.7)
	c.Report("mrr", 1)

	means := c.Means()
	if len(means) != 2 {
		t.Fatalf("expected 2 names, got %v", means)
	}
	if v := means["ndcg@3"]; v < 0.6-1e-12 || v > 0.6+1e-12 {
		t.Errorf("expected mean 0.6, got %v", v)
	}

	means["mrr"] = 0
	if c.Means()["mrr"] != 1 {
		t.Error("means must be a copy")
	}
}

func TestCollector_Empty(t *testing.T) {
	if got := NewCollector().Means(); len(got) != 0 {
		t.Errorf("expected no means, got %v", got)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Report("x", float64(i%2))
		}()
	}
	wg.Wait()
	if v := c.Means()["x"]; v != 0.5 {
		t.Errorf("expected mean 0.5 over 50 reports, got %v", v)
	}
}
