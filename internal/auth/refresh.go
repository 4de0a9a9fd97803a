package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"linkto.me/internal/audit"
	"linkto.me/internal/obs"
)

// refreshTokenBytes is the entropy of a refresh token before encoding. The
// encoded value doubles as the storage lookup key, so it must be
// unguessable.
const refreshTokenBytes = 64

// IssueRefreshToken creates and persists a refresh token for the user.
// The value is base64url without padding so it is safe as a lookup key.
func (s *Service) IssueRefreshToken(ctx context.Context, userID string) (*RefreshToken, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	tok := &RefreshToken{
		Token:     base64.RawURLEncoding.EncodeToString(buf),
		UserID:    userID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
		Valid:     true,
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// ValidateRefreshToken looks up the token and rejects it when missing,
// invalidated or past expiry.
func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	rec, err := s.store.RefreshTokens(ctx).Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.auditRefreshFailure(ctx, "not_found")
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !rec.Valid {
		s.auditRefreshFailure(ctx, "invalidated")
		return nil, ErrInvalidToken
	}
	if s.now().After(rec.ExpiresAt) {
		s.auditRefreshFailure(ctx, "expired")
		return nil, ErrInvalidToken
	}
	return rec, nil
}

// InvalidateRefreshToken soft-deletes every row matching the token value.
func (s *Service) InvalidateRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.RefreshTokens(ctx).Invalidate(ctx, token)
}

// SweepRefreshTokens physically deletes expired and invalidated rows.
// Intended to run on a timer from the process entry point.
func (s *Service) SweepRefreshTokens(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens(ctx).DeleteExpired(ctx, s.now().UTC())
}

func (s *Service) auditRefreshFailure(ctx context.Context, reason string) {
	obs.CountAuthFailure("refresh")
	audit.RecordSecurityEvent(ctx, "auth.refresh.invalid", audit.Event{
		Metadata: map[string]any{"reason": reason},
	})
}
