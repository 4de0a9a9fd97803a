package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"linkto.me/internal/audit"
	"linkto.me/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// StringList normalizes a claim observed as either a single string or a list
// into a canonical list at the JSON boundary. Nothing deeper in the call
// graph branches on claim shape.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
			return nil
		}
		*l = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = StringList(list)
	return nil
}

// Claims is the access token payload.
type Claims struct {
	Email              string              `json:"email,omitempty"`
	Username           string              `json:"username,omitempty"`
	Roles              StringList          `json:"roles,omitempty"`
	Permissions        StringList          `json:"permissions,omitempty"`
	UserManagements    []ManagementLink    `json:"userManagements,omitempty"`
	CompanyMemberships []CompanyMembership `json:"companyMemberships,omitempty"`
	IsSubAccount       bool                `json:"isSubAccount,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and validates session credentials: signed access tokens and
// persisted refresh tokens.
type Service struct {
	store      Store
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the token service. Secret length policy is enforced
// by the configuration layer before this point; an empty secret is still a
// programmer error here.
func NewService(store Store, secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		secret:     []byte(secret),
		issuer:     "linkto.me",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs an access token embedding the principal's identity
// and effective permission set. A non-positive ttl falls back to the
// configured default.
func (s *Service) IssueAccessToken(p Principal, ttl time.Duration) (string, time.Time, error) {
	if p.UserID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Email:              p.Email,
		Username:           p.Username,
		Roles:              StringList{p.Role},
		Permissions:        StringList(p.Permissions),
		UserManagements:    p.ManagementLinks,
		CompanyMemberships: p.CompanyMemberships,
		IsSubAccount:       p.IsSubAccount,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateAccessToken verifies the signature and claims of a bearer token
// and rebuilds the session principal. Any signature or decode failure maps
// to ErrInvalidToken and emits a security audit event; a role outside the
// allow-list maps to ErrUnknownRole.
func (s *Service) ValidateAccessToken(ctx context.Context, tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		s.auditTokenFailure(ctx, "signature_or_claims", err)
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		s.auditTokenFailure(ctx, "claims_type", nil)
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		s.auditTokenFailure(ctx, "missing_subject", nil)
		return Principal{}, ErrInvalidToken
	}

	roles := []string(claims.Roles)
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	role, err := CanonicalRole("", roles)
	if err != nil {
		return Principal{}, err
	}
	permissions := []string(claims.Permissions)
	if permissions == nil {
		permissions = []string{}
	}

	return Principal{
		UserID:             claims.Subject,
		Email:              claims.Email,
		Username:           claims.Username,
		Role:               role,
		Permissions:        permissions,
		ManagementLinks:    claims.UserManagements,
		CompanyMemberships: claims.CompanyMemberships,
		IsSubAccount:       claims.IsSubAccount,
		AuthMode:           ModeSession,
	}, nil
}

func (s *Service) auditTokenFailure(ctx context.Context, reason string, err error) {
	obs.CountAuthFailure(string(ModeSession))
	meta := map[string]any{"reason": reason}
	if err != nil {
		meta["detail"] = err.Error()
	}
	audit.RecordSecurityEvent(ctx, "auth.token.invalid", audit.Event{Metadata: meta})
}
