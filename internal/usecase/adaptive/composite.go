package adaptive

import (
	"context"

	"github.com/kailas-cloud/embshift/internal/domain/shift"
)

// Composite concatenates the output of several generators, then filters,
// de-duplicates and caps it, in that order.
type Composite struct {
	generators []Generator
	filters    []func(shift.Shift) bool
	dedup      bool
	max        int
}

// NewComposite creates a composite over gens.
func NewComposite(gens ...Generator) *Composite {
	return &Composite{generators: gens}
}

// WithFilter keeps only shifts for which keep returns true.
func (c *Composite) WithFilter(keep func(shift.Shift) bool) *Composite {
	c.filters = append(c.filters, keep)
	return c
}

// WithDedup drops shifts whose fingerprint was already seen.
func (c *Composite) WithDedup() *Composite {
	c.dedup = true
	return c
}

// WithMax caps the number of returned shifts. Zero means unlimited.
func (c *Composite) WithMax(n int) *Composite {
	c.max = n
	return c
}

// Generate implements Generator.
func (c *Composite) Generate(ctx context.Context, pairs []Pair) ([]shift.Shift, error) {
	var all []shift.Shift
	for _, g := range c.generators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := g.Generate(ctx, pairs)
		if err != nil {
			return nil, err
		}
		all = append(all, out...)
	}

	seen := make(map[string]struct{})
	result := make([]shift.Shift, 0, len(all))
	for _, s := range all {
		if s == nil || !c.keep(s) {
			continue
		}
		if c.dedup {
			fp := shift.Fingerprint(s)
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
		}
		result = append(result, s)
	}

	if c.max > 0 && len(result) > c.max {
		result = result[:c.max]
	}
	return result, nil
}

func (c *Composite) keep(s shift.Shift) bool {
	for _, f := range c.filters {
		if !f(s) {
			return false
		}
	}
	return true
}
