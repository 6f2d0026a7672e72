// Package observability provides OpenTelemetry metrics and tracing for the hub API.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameRequestCount            = "hub_http_requests_total"
	MetricNameRequestDuration         = "hub_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge     = "hub_http_request_body_too_large_total"
	MetricNameCacheHits               = "hub_cache_hits_total"
	MetricNameCacheMisses             = "hub_cache_misses_total"
	MetricNameCacheBackendErrors      = "hub_cache_backend_errors_total"
	MetricNameEmbeddingErrors         = "hub_embedding_errors_total"
	MetricNameEmbeddingDuration       = "hub_embedding_duration_seconds"
	MetricNameRetrievalVariantFailed  = "hub_retrieval_variant_failures_total"
	MetricNameRetrievalPartitionEmpty = "hub_retrieval_partition_failures_total"
	MetricNameRetrievalSharedPoolUsed = "hub_retrieval_shared_pool_used_total"
	MetricNameRetrievalDuration       = "hub_retrieval_duration_seconds"
	MetricNameRetrievalResults        = "hub_retrieval_results"
)

// Attribute keys.
const (
	AttrReason  = "reason"
	AttrStatus  = "status"
	AttrCache   = "cache"
	AttrVariant = "variant"
)

// AllowedCacheNames bounds the cache label cardinality.
var AllowedCacheNames = map[string]bool{
	"query_embedding": true,
	"author_tier":     true,
}

// AllowedEmbeddingReasons for hub_embedding_errors_total.
var AllowedEmbeddingReasons = map[string]bool{
	"provider_failed": true,
	"rate_limited":    true,
	"empty_input":     true,
}

// AllowedVariantTypes bounds the variant label cardinality.
var AllowedVariantTypes = map[string]bool{
	"intent":     true,
	"file-path":  true,
	"code-shape": true,
}

// NormalizeCacheName returns name if allowed, otherwise "other".
func NormalizeCacheName(name string) string {
	if AllowedCacheNames[name] {
		return name
	}

	return "other"
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeVariantType returns variantType if allowed, otherwise "other".
func NormalizeVariantType(variantType string) string {
	if AllowedVariantTypes[variantType] {
		return variantType
	}

	return "other"
}
