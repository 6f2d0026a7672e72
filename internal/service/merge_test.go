package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewloop/hub/internal/models"
)

func intentOutcome(results ...models.RetrievalResult) VariantOutcome {
	return VariantOutcome{
		Variant: models.RetrievalVariant{Type: models.VariantIntent, Priority: 0},
		Results: results,
	}
}

func codeShapeOutcome(results ...models.RetrievalResult) VariantOutcome {
	return VariantOutcome{
		Variant: models.RetrievalVariant{Type: models.VariantCodeShape, Priority: 2},
		Results: results,
	}
}

func TestMergeVariantResults_dedupesKeepingLowestDistance(t *testing.T) {
	outcomes := []VariantOutcome{
		intentOutcome(
			models.RetrievalResult{MemoryID: 1, Distance: 0.3},
			models.RetrievalResult{MemoryID: 2, Distance: 0.2},
		),
		codeShapeOutcome(
			models.RetrievalResult{MemoryID: 2, Distance: 0.4},
			models.RetrievalResult{MemoryID: 3, Distance: 0.25},
		),
	}

	merged := MergeVariantResults(outcomes, 0)

	require.Len(t, merged, 3)

	assert.Equal(t, int64(2), merged[0].MemoryID)
	assert.InDelta(t, 0.2, merged[0].Distance, 1e-9)
	assert.Equal(t, []models.VariantType{models.VariantIntent, models.VariantCodeShape}, merged[0].MatchedVariants)

	assert.Equal(t, int64(3), merged[1].MemoryID)
	assert.Equal(t, []models.VariantType{models.VariantCodeShape}, merged[1].MatchedVariants)

	assert.Equal(t, int64(1), merged[2].MemoryID)
	assert.InDelta(t, 0.3, merged[2].Distance, 1e-9)
}

func TestMergeVariantResults_orderIndependentOfOutcomeOrder(t *testing.T) {
	a := intentOutcome(
		models.RetrievalResult{MemoryID: 1, Distance: 0.3},
		models.RetrievalResult{MemoryID: 2, Distance: 0.2},
	)
	b := codeShapeOutcome(
		models.RetrievalResult{MemoryID: 2, Distance: 0.2},
		models.RetrievalResult{MemoryID: 3, Distance: 0.25},
	)

	forward := MergeVariantResults([]VariantOutcome{a, b}, 0)
	reversed := MergeVariantResults([]VariantOutcome{b, a}, 0)

	assert.Equal(t, forward, reversed)
}

func TestMergeVariantResults_tieBrokenByVariantPriorityThenID(t *testing.T) {
	outcomes := []VariantOutcome{
		intentOutcome(models.RetrievalResult{MemoryID: 9, Distance: 0.5}),
		codeShapeOutcome(
			models.RetrievalResult{MemoryID: 4, Distance: 0.5},
			models.RetrievalResult{MemoryID: 2, Distance: 0.5},
		),
	}

	merged := MergeVariantResults(outcomes, 0)

	require.Len(t, merged, 3)
	// Equal distance: intent (priority 0) before code-shape (priority 2),
	// then ascending memory id within the same variant.
	assert.Equal(t, int64(9), merged[0].MemoryID)
	assert.Equal(t, int64(2), merged[1].MemoryID)
	assert.Equal(t, int64(4), merged[2].MemoryID)
}

func TestMergeVariantResults_failedOutcomeTreatedAsEmpty(t *testing.T) {
	outcomes := []VariantOutcome{
		intentOutcome(models.RetrievalResult{MemoryID: 1, Distance: 0.1}),
		{
			Variant: models.RetrievalVariant{Type: models.VariantFilePath, Priority: 1},
			Results: []models.RetrievalResult{{MemoryID: 7, Distance: 0.05}},
			Err:     errors.New("store unavailable"),
		},
	}

	merged := MergeVariantResults(outcomes, 0)

	require.Len(t, merged, 1)
	assert.Equal(t, int64(1), merged[0].MemoryID)
}

func TestMergeVariantResults_truncatesToTopK(t *testing.T) {
	outcomes := []VariantOutcome{
		intentOutcome(
			models.RetrievalResult{MemoryID: 1, Distance: 0.3},
			models.RetrievalResult{MemoryID: 2, Distance: 0.1},
			models.RetrievalResult{MemoryID: 3, Distance: 0.2},
		),
	}

	merged := MergeVariantResults(outcomes, 2)

	require.Len(t, merged, 2)
	assert.Equal(t, int64(2), merged[0].MemoryID)
	assert.Equal(t, int64(3), merged[1].MemoryID)
}

func TestMergeVariantResults_keepsRecordFromAnyVariant(t *testing.T) {
	record := &models.MemoryRecord{ID: 2, Content: "nil pool on reconnect"}

	outcomes := []VariantOutcome{
		intentOutcome(models.RetrievalResult{MemoryID: 2, Distance: 0.3, Record: record}),
		codeShapeOutcome(models.RetrievalResult{MemoryID: 2, Distance: 0.2}),
	}

	merged := MergeVariantResults(outcomes, 0)

	require.Len(t, merged, 1)
	assert.InDelta(t, 0.2, merged[0].Distance, 1e-9)
	assert.Same(t, record, merged[0].Record)
}
