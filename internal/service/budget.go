package service

import "github.com/reviewloop/hub/internal/models"

// TrimToCharBudget returns the longest prefix of results whose summed content
// length fits within budget characters. Results must already be in distance
// order (the engine's output contract); trimming from the tail keeps the best
// matches. budget <= 0 returns an empty slice.
func TrimToCharBudget(results []models.RerankedResult, budget int) []models.RerankedResult {
	if budget <= 0 {
		return nil
	}

	used := 0

	for i, r := range results {
		cost := 0
		if r.Record != nil {
			cost = len(r.Record.Content) + len(r.Record.FilePath)
		}

		if used+cost > budget {
			return results[:i]
		}

		used += cost
	}

	return results
}
