package models

import "time"

// AuthorTier classifies a change author within a repo (e.g. new contributor vs
// maintainer); the review pipeline uses it to weight retrieval context.
type AuthorTier struct {
	Repo      string    `json:"repo"`
	Author    string    `json:"author"`
	Tier      string    `json:"tier"`
	UpdatedAt time.Time `json:"updatedAt"`
}
