package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"linkto.me/internal/audit"
	"linkto.me/internal/obs"
)

const (
	keyPrefix       = "ltm_"
	keyIDLength     = 8
	keySecretLength = 32
	// keyAlphabet is lowercase base-36; generation maps random bytes onto
	// it with rejection sampling so the distribution stays uniform.
	keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// maxKeyIDAttempts bounds collision retries against the store.
	maxKeyIDAttempts = 5
)

var keyPattern = regexp.MustCompile(`^ltm_([a-z0-9]{8})_([a-z0-9]{32})$`)

// KeyService issues and resolves structured API keys.
type KeyService struct {
	store Store
	now   func() time.Time
}

// KeyOption configures KeyService behavior.
type KeyOption func(*KeyService)

// WithKeyClock overrides the time source (useful for tests).
func WithKeyClock(fn func() time.Time) KeyOption {
	return func(s *KeyService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewKeyService constructs the API key service.
func NewKeyService(store Store, opts ...KeyOption) *KeyService {
	svc := &KeyService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Resolution is the outcome of a successful key resolution: the stored key,
// the principal it produces, and the owner's subscription tier for rate
// limiting.
type Resolution struct {
	Key       *APIKey
	Principal Principal
	Tier      string
}

// Issue generates a new key for the user, stores only the hash of the
// secret, and returns the full key exactly once. Key id generation retries
// on store collision and fails loud when attempts are exhausted.
func (s *KeyService) Issue(ctx context.Context, userID, name string, permissions []string) (string, *APIKey, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: key name is required", ErrInvalidInput)
	}

	keys := s.store.APIKeys(ctx)
	var keyID string
	for attempt := 0; attempt < maxKeyIDAttempts; attempt++ {
		candidate, err := randomKeySegment(keyIDLength)
		if err != nil {
			return "", nil, err
		}
		_, err = keys.FindByKeyID(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			keyID = candidate
			break
		}
		if err != nil {
			return "", nil, err
		}
	}
	if keyID == "" {
		return "", nil, fmt.Errorf("auth: key id collision retries exhausted after %d attempts", maxKeyIDAttempts)
	}

	secret, err := randomKeySegment(keySecretLength)
	if err != nil {
		return "", nil, err
	}
	key := &APIKey{
		KeyID:       keyID,
		UserID:      userID,
		SecretHash:  hashKeySecret(secret),
		Name:        name,
		Permissions: dedupeStrings(permissions),
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := keys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return keyPrefix + keyID + "_" + secret, key, nil
}

// ExtractCredential pulls the raw key from either the Authorization header
// (Bearer scheme) or the dedicated X-Api-Key header. Returns "" when
// neither carries a key-shaped credential.
func ExtractCredential(authorization, apiKeyHeader string) string {
	authorization = strings.TrimSpace(authorization)
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		candidate := strings.TrimSpace(authorization[len("bearer "):])
		if strings.HasPrefix(candidate, keyPrefix) {
			return candidate
		}
	}
	apiKeyHeader = strings.TrimSpace(apiKeyHeader)
	if strings.HasPrefix(apiKeyHeader, keyPrefix) {
		return apiKeyHeader
	}
	return ""
}

// Resolve validates a raw key credential and builds the API key principal.
// Delegation links are loaded only when the owner is flagged as a manager.
// Last-used metadata is updated best-effort off the request path.
func (s *KeyService) Resolve(ctx context.Context, credential, ip string) (Resolution, error) {
	match := keyPattern.FindStringSubmatch(credential)
	if match == nil {
		return Resolution{}, s.reject(ctx, "", ip, "malformed")
	}
	keyID, secret := match[1], match[2]

	key, err := s.store.APIKeys(ctx).FindByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolution{}, s.reject(ctx, keyID, ip, "unknown_key")
		}
		return Resolution{}, err
	}
	if !secureCompareHex(key.SecretHash, hashKeySecret(secret)) {
		return Resolution{}, s.reject(ctx, keyID, ip, "secret_mismatch")
	}
	if !key.Active {
		reason := key.DisabledReason
		if reason == "" {
			reason = "key disabled"
		}
		_ = s.reject(ctx, keyID, ip, "disabled")
		return Resolution{}, fmt.Errorf("%w: %s", ErrInvalidKey, reason)
	}

	owner, err := s.store.Users(ctx).Find(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolution{}, s.reject(ctx, keyID, ip, "owner_missing")
		}
		return Resolution{}, err
	}
	if owner.Status != UserStatusActive {
		return Resolution{}, s.reject(ctx, keyID, ip, "owner_deactivated")
	}

	role, err := CanonicalRole(owner.Role, owner.LegacyRoles)
	if err != nil {
		return Resolution{}, err
	}

	var links []ManagementLink
	if owner.IsManager {
		edges, err := s.store.Management(ctx).AcceptedForManager(ctx, owner.ID)
		if err != nil {
			return Resolution{}, err
		}
		links = make([]ManagementLink, 0, len(edges))
		for _, edge := range edges {
			links = append(links, ManagementLink{
				ManagedUserID: edge.ManagedUserID,
				Role:          edge.Role,
				Permissions:   DelegatePermissionsForRole(edge.Role),
				Direction:     DirectionManages,
			})
		}
	}

	go s.touchUsage(key.KeyID, ip)

	return Resolution{
		Key: key,
		Principal: Principal{
			UserID:          owner.ID,
			Email:           owner.Email,
			Username:        owner.Username,
			Role:            role,
			Permissions:     key.Permissions,
			ManagementLinks: links,
			IsSubAccount:    owner.IsSubAccount,
			AuthMode:        ModeAPIKey,
		},
		Tier: owner.Tier,
	}, nil
}

// touchUsage runs off the request path; a failed metadata write never
// changes the response already computed.
func (s *KeyService) touchUsage(keyID, ip string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.APIKeys(ctx).TouchUsage(ctx, keyID, s.now().UTC(), ip); err != nil {
		obs.LogError("api key usage update failed", err, map[string]any{"key_id": keyID})
	}
}

func (s *KeyService) reject(ctx context.Context, keyID, ip, reason string) error {
	obs.CountAuthFailure(string(ModeAPIKey))
	meta := map[string]any{"reason": reason}
	if keyID != "" {
		meta["key_id"] = keyID
	}
	audit.RecordSecurityEvent(ctx, "auth.apikey.invalid", audit.Event{
		IP:       ip,
		Metadata: meta,
	})
	return fmt.Errorf("%w: %s", ErrInvalidKey, reason)
}

// randomKeySegment draws n characters uniformly from the key alphabet using
// rejection sampling over crypto/rand bytes.
func randomKeySegment(n int) (string, error) {
	// Largest multiple of len(keyAlphabet) below 256; bytes at or above it
	// are redrawn to keep the mapping uniform.
	limit := byte(256 - 256%len(keyAlphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate key segment: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, keyAlphabet[int(b)%len(keyAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

func hashKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
