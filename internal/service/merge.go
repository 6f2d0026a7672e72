package service

import (
	"sort"

	"github.com/reviewloop/hub/internal/models"
)

// mergeEntry tracks the best observation of one memory across variants.
type mergeEntry struct {
	result       models.MergedResult
	bestPriority int
	matched      map[models.VariantType]int // variant type -> priority, for ordering
}

// MergeVariantResults deduplicates results across variant outcomes by memory
// id and orders them deterministically: ascending distance, ties broken by
// the priority ordinal of the best-matching variant, then by memory id. The
// output is identical for any permutation of the input outcomes. Outcomes
// carrying an error contribute an empty result set; a partial failure never
// fails the merge. Truncates to topK when topK > 0.
func MergeVariantResults(outcomes []VariantOutcome, topK int) []models.MergedResult {
	entries := make(map[int64]*mergeEntry)

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			continue
		}

		priority := outcome.Variant.Priority

		for _, result := range outcome.Results {
			entry, ok := entries[result.MemoryID]
			if !ok {
				entries[result.MemoryID] = &mergeEntry{
					result: models.MergedResult{
						MemoryID:   result.MemoryID,
						Distance:   result.Distance,
						Record:     result.Record,
						SourceRepo: result.SourceRepo,
					},
					bestPriority: priority,
					matched:      map[models.VariantType]int{outcome.Variant.Type: priority},
				}

				continue
			}

			entry.matched[outcome.Variant.Type] = priority

			// Keep the lowest distance; on exact ties prefer the lower-priority
			// ordinal so the outcome is independent of iteration order.
			if result.Distance < entry.result.Distance ||
				(result.Distance == entry.result.Distance && priority < entry.bestPriority) {
				entry.result.Distance = result.Distance
				entry.result.SourceRepo = result.SourceRepo

				if result.Record != nil {
					entry.result.Record = result.Record
				}

				entry.bestPriority = priority
			}
		}
	}

	merged := make([]models.MergedResult, 0, len(entries))

	for _, entry := range entries {
		entry.result.MatchedVariants = orderedVariantTypes(entry.matched)
		merged = append(merged, entry.result)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}

		pi := entries[merged[i].MemoryID].bestPriority
		pj := entries[merged[j].MemoryID].bestPriority

		if pi != pj {
			return pi < pj
		}

		return merged[i].MemoryID < merged[j].MemoryID
	})

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}

	return merged
}

// orderedVariantTypes lists matched variant types by their priority ordinal.
func orderedVariantTypes(matched map[models.VariantType]int) []models.VariantType {
	types := make([]models.VariantType, 0, len(matched))
	for t := range matched {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool {
		return matched[types[i]] < matched[types[j]]
	})

	return types
}
