package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	APIKeys(ctx context.Context) APIKeyStore
	Management(ctx context.Context) ManagementStore
	Memberships(ctx context.Context) MembershipStore
}

// UserStore manages account records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// RefreshTokenStore manages the refresh token lifecycle. The token value is
// the lookup key.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, token string) (*RefreshToken, error)
	// Invalidate marks every row matching the token value invalid.
	Invalidate(ctx context.Context, token string) error
	// DeleteExpired removes rows that are invalid or past expiry.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// APIKeyStore manages API key records.
type APIKeyStore interface {
	Create(ctx context.Context, key *APIKey) error
	FindByKeyID(ctx context.Context, keyID string) (*APIKey, error)
	ListByOwner(ctx context.Context, userID string) ([]*APIKey, error)
	Disable(ctx context.Context, keyID, reason string) error
	// TouchUsage updates last-used metadata. Best-effort: callers must not
	// fail a request when it errors.
	TouchUsage(ctx context.Context, keyID string, at time.Time, ip string) error
}

// ManagementStore reads delegation edges.
type ManagementStore interface {
	// AcceptedForManager returns accepted edges where the user is the
	// manager side.
	AcceptedForManager(ctx context.Context, managerUserID string) ([]ManagementEdge, error)
}

// MembershipStore reads company memberships.
type MembershipStore interface {
	ForUser(ctx context.Context, userID string) ([]CompanyMembership, error)
}
