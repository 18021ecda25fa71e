package estimate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/emissions-cli/internal/records"
)

// Estimator performs one estimate call. *Adapter implements it.
type Estimator interface {
	Estimate(ctx context.Context, req Request) Outcome
}

// RowEstimator fans a record's candidates out to an Estimator and joins the
// outcomes in candidate order.
type RowEstimator struct {
	estimator   Estimator
	mapping     FieldMapping
	concurrency int
}

// NewRowEstimator creates a RowEstimator. A concurrency of zero or less
// dispatches every candidate of a row at once.
func NewRowEstimator(estimator Estimator, mapping FieldMapping, concurrency int) *RowEstimator {
	return &RowEstimator{
		estimator:   estimator,
		mapping:     mapping,
		concurrency: concurrency,
	}
}

// Plan returns the candidates for rec without calling the service.
func (r *RowEstimator) Plan(rec records.Record) []Candidate {
	f := r.mapping.Extract(rec)
	return Permutations(f.SearchTerms, f.Categories)
}

// EstimateRow estimates every candidate of rec concurrently and returns one
// Result per candidate, in generation order. It returns only after all
// candidates have settled.
func (r *RowEstimator) EstimateRow(ctx context.Context, rec records.Record) []Result {
	f := r.mapping.Extract(rec)
	candidates := Permutations(f.SearchTerms, f.Categories)
	results := make([]Result, len(candidates))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	for i, c := range candidates {
		g.Go(func() error {
			results[i] = Result{
				Candidate: c,
				Outcome: r.estimator.Estimate(ctx, Request{
					Amount:      f.Amount,
					Currency:    f.Currency,
					SearchTerm:  c.SearchTerm,
					Category:    c.Category,
					CountryCode: f.CountryCode,
				}),
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
