package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// BuildSearchCacheKey builds a canonical cache key from a repository name,
// search type, free-text query, and optional structured extras. Two requests
// that differ only in case, incidental whitespace, or extra-map key order
// produce the same key: repo and search type are case-folded, the query is
// trimmed, case-folded and whitespace-collapsed, and extras are serialized
// with recursively sorted keys.
func BuildSearchCacheKey(repo, searchType, query string, extra map[string]any) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(repo)),
		strings.ToLower(strings.TrimSpace(searchType)),
		normalizeQueryText(query),
	}

	if len(extra) > 0 {
		parts = append(parts, canonicalize(extra))
	}

	return strings.Join(parts, "|")
}

// normalizeQueryText trims, case-folds, and collapses runs of whitespace to a
// single space.
func normalizeQueryText(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// canonicalize renders a value with deterministic map-key ordering at every
// nesting level. Slices keep their order (element order is semantic).
func canonicalize(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		var b strings.Builder

		b.WriteByte('{')

		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}

			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(canonicalize(val[k]))
		}

		b.WriteByte('}')

		return b.String()
	case []any:
		elems := make([]string, len(val))
		for i, e := range val {
			elems[i] = canonicalize(e)
		}

		return "[" + strings.Join(elems, ",") + "]"
	case string:
		return normalizeQueryText(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}

		return string(raw)
	}
}
