package service

import (
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/reviewloop/hub/internal/models"
)

// maxVariantQueryLen caps each variant's query text. Longer text adds token
// cost at the embedding provider without adding retrieval signal.
const maxVariantQueryLen = 800

// maxVariantPaths caps how many changed paths the file-path variant lists.
const maxVariantPaths = 8

// docExtensions are file extensions deprioritized by the file-path variant
// ranking; pure documentation changes rarely match code findings.
var docExtensions = map[string]struct{}{
	".md":   {},
	".rst":  {},
	".txt":  {},
	".adoc": {},
}

// BuildRetrievalVariants derives the three complementary query formulations
// for a change, in fixed order [intent, file-path, code-shape]. The function
// is deterministic: inputs that are equal after trimming and case-folding
// produce byte-identical variants, which keeps cache keys stable and tests
// reproducible.
func BuildRetrievalVariants(change models.ChangeSummary) []models.RetrievalVariant {
	return []models.RetrievalVariant{
		{Type: models.VariantIntent, Query: buildIntentQuery(change), Priority: 0},
		{Type: models.VariantFilePath, Query: buildFilePathQuery(change), Priority: 1},
		{Type: models.VariantCodeShape, Query: buildCodeShapeQuery(change), Priority: 2},
	}
}

// buildIntentQuery captures what the change is trying to do: conventional
// commit type, title, and body.
func buildIntentQuery(change models.ChangeSummary) string {
	parts := make([]string, 0, 3)

	if t := normalizeToken(change.ConventionalType); t != "" {
		parts = append(parts, t)
	}

	if title := normalizeText(change.Title); title != "" {
		parts = append(parts, title)
	}

	if body := normalizeText(change.Body); body != "" {
		parts = append(parts, body)
	}

	return capQuery(strings.Join(parts, " "))
}

// buildFilePathQuery lists changed paths, documentation files last, capped to
// the first maxVariantPaths after ranking. The cap is on count only; no path
// is filtered out semantically.
func buildFilePathQuery(change models.ChangeSummary) string {
	paths := make([]string, 0, len(change.ChangedPaths))

	for _, p := range change.ChangedPaths {
		if normalized := normalizeToken(p); normalized != "" {
			paths = append(paths, normalized)
		}
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return !isDocPath(paths[i]) && isDocPath(paths[j])
	})

	if len(paths) > maxVariantPaths {
		paths = paths[:maxVariantPaths]
	}

	return capQuery(strings.Join(paths, " "))
}

// buildCodeShapeQuery concatenates normalized language names and risk-signal
// tokens, deduplicated with first occurrence winning.
func buildCodeShapeQuery(change models.ChangeSummary) string {
	tokens := make([]string, 0, len(change.Languages)+len(change.RiskSignals))
	seen := make(map[string]struct{})

	for _, raw := range append(append([]string{}, change.Languages...), change.RiskSignals...) {
		token := normalizeToken(raw)
		if token == "" {
			continue
		}

		if _, dup := seen[token]; dup {
			continue
		}

		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	return capQuery(strings.Join(tokens, " "))
}

func isDocPath(p string) bool {
	_, doc := docExtensions[path.Ext(p)]

	return doc
}

// normalizeText trims, case-folds, and collapses whitespace runs (including
// newlines) to single spaces.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// normalizeToken trims and case-folds a single token (path, language, signal).
func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// capQuery truncates q to maxVariantQueryLen bytes, backing off to the
// previous rune boundary so a multi-byte character is never split.
func capQuery(q string) string {
	if len(q) <= maxVariantQueryLen {
		return q
	}

	end := maxVariantQueryLen
	for end > 0 && !utf8.RuneStart(q[end]) {
		end--
	}

	return q[:end]
}
