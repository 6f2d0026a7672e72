package service

import (
	"math"
	"sort"
	"time"

	"github.com/reviewloop/hub/internal/models"
)

// RecencyConfig controls the exponential time-decay re-scoring.
type RecencyConfig struct {
	// HalfLifeDays is the age at which a finding's decay multiplier halves.
	HalfLifeDays float64
	// CriticalFloor is the minimum multiplier for critical/major findings;
	// old-but-important findings never decay past it.
	CriticalFloor float64
	// DefaultFloor is the minimum multiplier for all other severities.
	DefaultFloor float64
}

// DefaultRecencyConfig returns the production decay parameters.
func DefaultRecencyConfig() RecencyConfig {
	return RecencyConfig{
		HalfLifeDays:  90,
		CriticalFloor: 0.3,
		DefaultFloor:  0.15,
	}
}

// Valid reports whether the config is usable.
func (c RecencyConfig) Valid() bool {
	return c.HalfLifeDays > 0 &&
		c.CriticalFloor > 0 && c.CriticalFloor <= 1 &&
		c.DefaultFloor > 0 && c.DefaultFloor <= 1
}

const hoursPerDay = 24

// ApplyRecencyWeighting re-scores merged results with an exponential
// time-decay penalty. The decay multiplier exp(-ln2/halfLife * ageDays) is
// floored per severity, then inverted into distance space as a factor of
// (2 - multiplier): a fresh finding (multiplier 1.0) is unchanged, a fully
// decayed critical finding (multiplier 0.3) gets its distance scaled by 1.7.
// The input slice and its elements are never mutated; output is sorted
// ascending by adjusted distance, which may differ from the input order.
func ApplyRecencyWeighting(
	results []models.MergedResult, now time.Time, cfg RecencyConfig,
) []models.RerankedResult {
	reranked := make([]models.RerankedResult, 0, len(results))

	for _, result := range results {
		multiplier := decayMultiplier(result.Record, now, cfg)

		reranked = append(reranked, models.RerankedResult{
			MergedResult:     result,
			AdjustedDistance: result.Distance * (2 - multiplier),
		})
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].AdjustedDistance < reranked[j].AdjustedDistance
	})

	return reranked
}

// decayMultiplier computes the floored decay multiplier for one result.
// A missing record or zero timestamp is treated as age 0: no-date records are
// rare and should not be penalized.
func decayMultiplier(record *models.MemoryRecord, now time.Time, cfg RecencyConfig) float64 {
	ageDays := 0.0

	if record != nil && !record.CreatedAt.IsZero() {
		if age := now.Sub(record.CreatedAt); age > 0 {
			ageDays = age.Hours() / hoursPerDay
		}
	}

	multiplier := math.Exp(-math.Ln2 / cfg.HalfLifeDays * ageDays)

	floor := cfg.DefaultFloor
	if record != nil && (record.Severity == models.SeverityCritical || record.Severity == models.SeverityMajor) {
		floor = cfg.CriticalFloor
	}

	if multiplier < floor {
		multiplier = floor
	}

	return multiplier
}
