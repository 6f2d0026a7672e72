package service

import (
	"context"
	"sync"

	"github.com/reviewloop/hub/internal/models"
)

// VariantOutcome is the result of running one retrieval variant. Exactly one
// of Results or Err is meaningful: a failed variant carries Err and an empty
// result set, and downstream merging treats it as empty rather than failing.
type VariantOutcome struct {
	Variant    models.RetrievalVariant
	Results    []models.RetrievalResult
	Provenance *models.Provenance
	Err        error
}

// VariantRunFunc embeds and retrieves a single variant.
type VariantRunFunc func(ctx context.Context, variant models.RetrievalVariant) (
	[]models.RetrievalResult, *models.Provenance, error)

// VariantExecutor runs retrieval variants with a concurrency ceiling.
// Outcomes preserve the input order of variants regardless of completion
// order, and one variant's failure never aborts its siblings.
type VariantExecutor struct {
	maxConcurrency int
}

// NewVariantExecutor creates an executor. maxConcurrency < 1 is treated as 1.
func NewVariantExecutor(maxConcurrency int) *VariantExecutor {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	return &VariantExecutor{maxConcurrency: maxConcurrency}
}

// Execute runs all variants through run, at most maxConcurrency at a time.
// The returned slice is indexed by the variants' input positions.
func (e *VariantExecutor) Execute(
	ctx context.Context, variants []models.RetrievalVariant, run VariantRunFunc,
) []VariantOutcome {
	outcomes := make([]VariantOutcome, len(variants))
	sem := make(chan struct{}, e.maxConcurrency)

	var wg sync.WaitGroup

	for i, variant := range variants {
		wg.Add(1)

		go func(i int, variant models.RetrievalVariant) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results, provenance, err := run(ctx, variant)
			if err != nil {
				outcomes[i] = VariantOutcome{Variant: variant, Err: err}

				return
			}

			outcomes[i] = VariantOutcome{Variant: variant, Results: results, Provenance: provenance}
		}(i, variant)
	}

	wg.Wait()

	return outcomes
}
