package models

import "time"

// Severity of the review finding a memory was created from.
type Severity string

// Severity values.
const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMedium   Severity = "medium"
	SeverityMinor    Severity = "minor"
)

// Outcome records how the finding was resolved by the reviewer.
type Outcome string

// Outcome values.
const (
	OutcomeAccepted   Outcome = "accepted"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeThumbsUp   Outcome = "thumbs_up"
	OutcomeThumbsDown Outcome = "thumbs_down"
)

// MemoryRecord is a stored prior finding with its embedding metadata.
// Records are immutable after creation except for the Stale flag (flipped when
// the embedding model changes) and deletion (purge or source finding removed).
type MemoryRecord struct {
	ID             int64     `json:"id"`
	Repo           string    `json:"repo"`
	Owner          string    `json:"owner"`
	FindingID      int64     `json:"findingId"`
	Content        string    `json:"content"`
	Severity       Severity  `json:"severity"`
	Category       string    `json:"category"`
	FilePath       string    `json:"filePath"`
	Outcome        Outcome   `json:"outcome"`
	EmbeddingModel string    `json:"embeddingModel"`
	Dimensions     int       `json:"dimensions"`
	Stale          bool      `json:"stale"`
	CreatedAt      time.Time `json:"createdAt"`
}

// WriteMemoryRequest carries a new memory record plus its embedding vector.
// Writes are idempotent on the (repo, finding_id, outcome) unique key.
type WriteMemoryRequest struct {
	Repo           string   `json:"repo"`
	Owner          string   `json:"owner"`
	FindingID      int64    `json:"findingId"`
	Content        string   `json:"content"`
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	FilePath       string   `json:"filePath"`
	Outcome        Outcome  `json:"outcome"`
	EmbeddingModel string   `json:"embeddingModel"`
	Embedding      []float32
}

// RetrievalResult is one nearest-neighbor hit. Distance is cosine distance,
// lower is better. SourceRepo records provenance even when the hit came from
// the owner-wide shared pool rather than the querying repo.
type RetrievalResult struct {
	MemoryID   int64         `json:"memoryId"`
	Distance   float64       `json:"distance"`
	Record     *MemoryRecord `json:"record,omitempty"`
	SourceRepo string        `json:"sourceRepo"`
}

// Provenance describes which sources contributed to one isolation-layer call.
// It is telemetry only and never feeds back into filtering.
type Provenance struct {
	Repo              string   `json:"repo"`
	Sources           []string `json:"sources"`
	SharedPoolUsed    bool     `json:"sharedPoolUsed"`
	TotalCandidates   int      `json:"totalCandidates"`
	TopK              int      `json:"topK"`
	DistanceThreshold float64  `json:"distanceThreshold"`
}

// VariantType identifies one of the three query formulations issued per retrieval.
type VariantType string

// Variant types in fixed priority order.
const (
	VariantIntent    VariantType = "intent"
	VariantFilePath  VariantType = "file-path"
	VariantCodeShape VariantType = "code-shape"
)

// RetrievalVariant is a derived query formulation. Priority is a fixed ordinal
// used only for deterministic tie-breaking, never for relevance.
type RetrievalVariant struct {
	Type     VariantType `json:"type"`
	Query    string      `json:"query"`
	Priority int         `json:"priority"`
}

// MergedResult is a deduplicated cross-variant result. MatchedVariants lists
// every variant type that returned this memory, for explainability.
type MergedResult struct {
	MemoryID        int64         `json:"memoryId"`
	Distance        float64       `json:"distance"`
	Record          *MemoryRecord `json:"record,omitempty"`
	SourceRepo      string        `json:"sourceRepo"`
	MatchedVariants []VariantType `json:"matchedVariants"`
}

// RerankedResult extends a merged result with a recency-adjusted distance.
type RerankedResult struct {
	MergedResult

	AdjustedDistance float64 `json:"adjustedDistance"`
}

// ChangeSummary describes the change under review; it is the input from which
// the three retrieval variants are derived.
type ChangeSummary struct {
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	ConventionalType string   `json:"conventionalType"`
	Languages        []string `json:"languages"`
	RiskSignals      []string `json:"riskSignals"`
	ChangedPaths     []string `json:"changedPaths"`
	AuthorTier       string   `json:"authorTier"`
}
