// Package stats provides an explicit in-memory metrics sink.
package stats

import "sync"

// Collector accumulates reported values per metric name.
// It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	sums   map[string]float64
	counts map[string]int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Report adds value under name.
func (c *Collector) Report(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sums[name] += value
	c.counts[name]++
}

// Means returns the mean of every reported name. The map is a fresh copy.
func (c *Collector) Means() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.sums))
	for k, sum := range c.sums {
		out[k] = sum / float64(c.counts[k])
	}
	return out
}
