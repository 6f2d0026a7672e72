package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewloop/hub/internal/models"
)

// ErrAuthorTierNotFound is returned when no tier row exists for (repo, author).
var ErrAuthorTierNotFound = errors.New("author tier not found")

// AuthorTiersRepository handles data access for the author_tiers table.
type AuthorTiersRepository struct {
	db *pgxpool.Pool
}

// NewAuthorTiersRepository creates a new author tiers repository.
func NewAuthorTiersRepository(db *pgxpool.Pool) *AuthorTiersRepository {
	return &AuthorTiersRepository{db: db}
}

// GetTier returns the stored tier for an author in a repo. Returns
// ErrAuthorTierNotFound when the author has no recorded tier yet.
func (r *AuthorTiersRepository) GetTier(ctx context.Context, repo, author string) (*models.AuthorTier, error) {
	var tier models.AuthorTier

	err := r.db.QueryRow(ctx,
		`SELECT repo, author, tier, updated_at FROM author_tiers WHERE repo = $1 AND author = $2`,
		repo, author,
	).Scan(&tier.Repo, &tier.Author, &tier.Tier, &tier.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuthorTierNotFound
		}

		return nil, fmt.Errorf("get author tier: %w", err)
	}

	return &tier, nil
}

// UpsertTier inserts or updates the tier for (repo, author).
func (r *AuthorTiersRepository) UpsertTier(ctx context.Context, repo, author, tier string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO author_tiers (repo, author, tier, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo, author)
		DO UPDATE SET tier = EXCLUDED.tier, updated_at = $4`,
		repo, author, tier, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert author tier: %w", err)
	}

	return nil
}
