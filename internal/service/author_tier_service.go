package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reviewloop/hub/internal/models"
	"github.com/reviewloop/hub/internal/observability"
	"github.com/reviewloop/hub/internal/repository"
	"github.com/reviewloop/hub/pkg/cache"
)

const (
	authorTierCacheName = "author_tier"
	authorTierSearchTy  = "author_tier"

	// DefaultAuthorTier is assumed for authors with no recorded tier.
	DefaultAuthorTier = "standard"
)

// AuthorTierStore is the repository subset the tier lookup needs.
type AuthorTierStore interface {
	GetTier(ctx context.Context, repo, author string) (*models.AuthorTier, error)
}

// AuthorTierService resolves author tiers through the TTL search cache so the
// hot review path does not hit the database for every change. The cache fails
// open: a broken backing store degrades lookups to direct reads.
type AuthorTierService struct {
	store   AuthorTierStore
	cache   *cache.TTLCache[*models.AuthorTier]
	metrics observability.CacheMetrics
	logger  *slog.Logger
}

// AuthorTierServiceParams configures AuthorTierService. Metrics and Logger
// may be nil.
type AuthorTierServiceParams struct {
	Store    AuthorTierStore
	CacheTTL time.Duration
	Metrics  observability.CacheMetrics
	Logger   *slog.Logger
}

// NewAuthorTierService creates the service with its own fail-open TTL cache.
func NewAuthorTierService(p AuthorTierServiceParams) *AuthorTierService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &AuthorTierService{store: p.Store, metrics: p.Metrics, logger: logger}

	s.cache = cache.NewTTLCache[*models.AuthorTier](p.CacheTTL,
		cache.WithErrorHandler[*models.AuthorTier](func(op string, err error) {
			logger.Warn("author tier cache store failed, degrading to uncached", "op", op, "error", err)

			if p.Metrics != nil {
				p.Metrics.RecordBackendError(context.Background(), authorTierCacheName)
			}
		}),
	)

	return s
}

// GetTier returns the author's tier in repo. Authors with no recorded tier
// get DefaultAuthorTier; concurrent lookups for the same author coalesce into
// one database read.
func (s *AuthorTierService) GetTier(ctx context.Context, repo, author string) (*models.AuthorTier, error) {
	key := cache.BuildSearchCacheKey(repo, authorTierSearchTy, author, nil)
	loaded := false

	tier, err := s.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*models.AuthorTier, error) {
		loaded = true

		stored, err := s.store.GetTier(ctx, repo, author)
		if err != nil {
			if errors.Is(err, repository.ErrAuthorTierNotFound) {
				return &models.AuthorTier{Repo: repo, Author: author, Tier: DefaultAuthorTier}, nil
			}

			return nil, fmt.Errorf("load author tier: %w", err)
		}

		return stored, nil
	}, 0)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		if loaded {
			s.metrics.RecordMiss(ctx, authorTierCacheName)
		} else {
			s.metrics.RecordHit(ctx, authorTierCacheName)
		}
	}

	return tier, nil
}

// PurgeExpired evicts expired cache entries; called periodically by the app.
func (s *AuthorTierService) PurgeExpired() int {
	return s.cache.PurgeExpired()
}
