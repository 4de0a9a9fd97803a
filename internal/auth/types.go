package auth

import "time"

// User statuses.
const (
	UserStatusActive      = "active"
	UserStatusDeactivated = "deactivated"
)

// Management edge states. Only accepted edges participate in authorization.
const (
	EdgeStatePending  = "pending"
	EdgeStateAccepted = "accepted"
	EdgeStateRejected = "rejected"
)

// Delegation directions as seen from the credential owner.
const (
	DirectionManages   = "manages"
	DirectionManagedBy = "managed_by"
)

// AuthMode identifies the credential mechanism that produced a Principal.
type AuthMode string

const (
	ModeSession AuthMode = "session"
	ModeAPIKey  AuthMode = "apikey"
)

// User is an account record. Role is canonical; LegacyRoles survives from an
// earlier schema where roles was a list.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Role         string
	LegacyRoles  []string
	Status       string
	Tier         string
	IsSubAccount bool
	IsManager    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshToken is a persisted opaque refresh credential. The token value
// itself is the lookup key and must be unguessable.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Valid     bool
}

// APIKey holds the stored half of an issued key. The secret exists only as a
// one-way hash; the full key is returned exactly once at creation.
type APIKey struct {
	KeyID          string
	UserID         string
	SecretHash     string
	Name           string
	Permissions    []string
	Active         bool
	DisabledReason string
	CreatedAt      time.Time
	LastUsedAt     time.Time
	LastUsedIP     string
}

// ManagementEdge is a directed delegation between two accounts.
type ManagementEdge struct {
	ManagerUserID string
	ManagedUserID string
	Role          string
	State         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ManagementLink is the authorization-time view of an accepted edge, with
// permissions already derived from the edge role.
type ManagementLink struct {
	ManagedUserID string   `json:"managedUserId"`
	Role          string   `json:"role"`
	Permissions   []string `json:"permissions"`
	Direction     string   `json:"direction"`
}

// CompanyMembership scopes a role and permission set to one company.
type CompanyMembership struct {
	CompanyID   string   `json:"companyId"`
	UserID      string   `json:"-"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Principal is the resolved identity for one request. Built per request,
// never persisted as a unit, immutable once built.
type Principal struct {
	UserID             string
	Email              string
	Username           string
	Role               string
	Permissions        []string
	ManagementLinks    []ManagementLink
	CompanyMemberships []CompanyMembership
	IsSubAccount       bool
	AuthMode           AuthMode
}

// HasPermission reports whether the principal's own permission set contains
// the key.
func (p Principal) HasPermission(key string) bool {
	for _, perm := range p.Permissions {
		if perm == key {
			return true
		}
	}
	return false
}

// LinkFor returns the principal's accepted management link for a managed
// user, if any.
func (p Principal) LinkFor(managedUserID string) (ManagementLink, bool) {
	for _, link := range p.ManagementLinks {
		if link.ManagedUserID == managedUserID && link.Direction == DirectionManages {
			return link, true
		}
	}
	return ManagementLink{}, false
}

// MembershipFor returns the principal's membership in a company, if any.
func (p Principal) MembershipFor(companyID string) (CompanyMembership, bool) {
	for _, m := range p.CompanyMemberships {
		if m.CompanyID == companyID {
			return m, true
		}
	}
	return CompanyMembership{}, false
}
