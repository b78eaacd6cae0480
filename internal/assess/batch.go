package assess

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/model"
)

// AssessBatch checks every query with bounded parallelism. Results are in
// input order. Validation runs over the whole batch before any work, so a
// bad entry rejects the batch; the first runtime error cancels the rest.
func (s *Service) AssessBatch(ctx context.Context, queries []Query) ([]Assessment, error) {
	if err := s.validateBatch(queries); err != nil {
		return nil, err
	}
	m := s.models.Load()
	if m == nil {
		return nil, features.ErrNotFitted
	}

	out := make([]Assessment, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, q := range queries {
		g.Go(func() error {
			a, err := s.check(gctx, m, q)
			if err != nil {
				return fmt.Errorf("location %d: %w", i, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) validateBatch(queries []Query) error {
	if len(queries) == 0 {
		return &model.ValidationError{Problems: []string{"locations must not be empty"}}
	}
	if len(queries) > s.opts.MaxBatch {
		return &model.ValidationError{Problems: []string{
			fmt.Sprintf("batch size too large: maximum %d locations", s.opts.MaxBatch),
		}}
	}
	var problems []string
	for i, q := range queries {
		err := q.Validate()
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			for _, p := range ve.Problems {
				problems = append(problems, fmt.Sprintf("location %d: %s", i, p))
			}
		}
	}
	if len(problems) > 0 {
		return &model.ValidationError{Problems: problems}
	}
	return nil
}
