// Package profile holds the minimal page/link read-write surface the
// request pipeline dispatches into. The full editing feature set lives
// behind the same store contract.
package profile

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("profile: not found")

// Profile is the public page owned by a user.
type Profile struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Bio         string    `json:"bio"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Link is one entry on a profile page.
type Link struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Position  int       `json:"position"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence contract for profile pages and links.
type Store interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	Links(ctx context.Context, userID string) ([]Link, error)
}
