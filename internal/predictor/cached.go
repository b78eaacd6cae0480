package predictor

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/model"
)

// Cached memoizes predictions by exact feature values. Entries expire after
// the configured TTL; the least recently used entry is evicted when full.
type Cached struct {
	next   Predictor
	cache  *expirable.LRU[string, Prediction]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCached wraps next. A non-positive size selects 1024 entries; a zero
// ttl never expires entries.
func NewCached(next Predictor, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, Prediction](size, nil, ttl),
	}
}

// Predict returns the cached or freshly computed label.
func (c *Cached) Predict(ctx context.Context, v features.Vector) (model.Label, error) {
	p, err := c.Score(ctx, v)
	return p.Label, err
}

// PredictProbability returns the cached or freshly computed distribution.
func (c *Cached) PredictProbability(ctx context.Context, v features.Vector) (Probabilities, error) {
	p, err := c.Score(ctx, v)
	return p.Probabilities, err
}

// Score consults the cache before the wrapped predictor. Errors are not
// cached.
func (c *Cached) Score(ctx context.Context, v features.Vector) (Prediction, error) {
	key := cacheKey(v)
	if p, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)

	p, err := Score(ctx, c.next, v)
	if err != nil {
		return Prediction{}, err
	}
	c.cache.Add(key, p)
	return p, nil
}

// Stats returns hit and miss counts.
func (c *Cached) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of live entries.
func (c *Cached) Len() int { return c.cache.Len() }

func cacheKey(v features.Vector) string {
	var b strings.Builder
	for i, x := range v.Values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	return b.String()
}
