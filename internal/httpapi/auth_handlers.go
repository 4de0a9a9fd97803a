package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linkto.me/internal/audit"
	"linkto.me/internal/auth"
	"linkto.me/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		a.writeError(w, r, http.StatusBadRequest, "email and password are required", "")
		return
	}

	user, err := a.store.Users(r.Context()).FindByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			a.failLogin(w, r, "", email, "unknown_email")
			return
		}
		a.writeUnexpected(w, r, err)
		return
	}
	if user.Status != auth.UserStatusActive {
		a.failLogin(w, r, user.ID, email, "deactivated")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		a.failLogin(w, r, user.ID, email, "bad_password")
		return
	}

	principal, err := a.principalForUser(r.Context(), user)
	if err != nil {
		a.writeUnexpected(w, r, err)
		return
	}
	resp, err := a.issueSession(w, r, principal)
	if err != nil {
		a.writeUnexpected(w, r, err)
		return
	}

	audit.RecordSecurityEvent(r.Context(), "auth.login.success", audit.Event{
		UserID:   user.ID,
		Email:    email,
		IP:       clientIP(r),
		Endpoint: "public/login",
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	username := strings.TrimSpace(strings.ToLower(req.Username))
	if email == "" || !strings.Contains(email, "@") {
		a.writeError(w, r, http.StatusBadRequest, "valid email is required", "")
		return
	}
	if username == "" {
		a.writeError(w, r, http.StatusBadRequest, "username is required", "")
		return
	}
	if len(req.Password) < 8 {
		a.writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters", "")
		return
	}

	if _, err := a.store.Users(r.Context()).FindByEmail(r.Context(), email); err == nil {
		a.writeError(w, r, http.StatusConflict, "account already exists", "")
		return
	} else if !errors.Is(err, auth.ErrNotFound) {
		a.writeUnexpected(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.writeUnexpected(w, r, err)
		return
	}
	user := &auth.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleUser,
		Status:       auth.UserStatusActive,
		Tier:         "free",
	}
	if err := a.store.Users(r.Context()).Create(r.Context(), user); err != nil {
		a.writeUnexpected(w, r, err)
		return
	}

	audit.RecordSecurityEvent(r.Context(), "auth.signup", audit.Event{
		UserID:   user.ID,
		Email:    email,
		IP:       clientIP(r),
		Endpoint: "public/signup",
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":   user.ID,
		"username": username,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}

	rec, err := a.tokens.ValidateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			a.writeError(w, r, http.StatusUnauthorized, "invalid refresh token", "")
			return
		}
		a.writeUnexpected(w, r, err)
		return
	}

	user, err := a.store.Users(r.Context()).Find(r.Context(), rec.UserID)
	if err != nil || user.Status != auth.UserStatusActive {
		a.writeError(w, r, http.StatusUnauthorized, "invalid refresh token", "")
		return
	}
	principal, err := a.principalForUser(r.Context(), user)
	if err != nil {
		a.writeUnexpected(w, r, err)
		return
	}

	// Rotation: the presented token dies with this exchange.
	if err := a.tokens.InvalidateRefreshToken(r.Context(), rec.Token); err != nil {
		a.writeUnexpected(w, r, err)
		return
	}
	resp, err := a.issueSession(w, r, principal)
	if err != nil {
		a.writeUnexpected(w, r, err)
		return
	}

	audit.RecordSecurityEvent(r.Context(), "auth.refresh.success", audit.Event{
		UserID:   user.ID,
		IP:       clientIP(r),
		Endpoint: "public/refresh",
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err == nil && req.RefreshToken != "" {
		if err := a.tokens.InvalidateRefreshToken(r.Context(), req.RefreshToken); err != nil {
			obs.LogError("refresh token invalidation failed on logout", err, nil)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) failLogin(w http.ResponseWriter, r *http.Request, userID, email, reason string) {
	obs.CountAuthFailure("login")
	audit.RecordSecurityEvent(r.Context(), "auth.login.failure", audit.Event{
		UserID:   userID,
		Email:    email,
		IP:       clientIP(r),
		Endpoint: "public/login",
		Metadata: map[string]any{"reason": reason},
	})
	// One message for every failure mode; the reason stays server-side.
	a.writeError(w, r, http.StatusUnauthorized, "invalid credentials", "")
}

// principalForUser builds the full session principal for a user record:
// canonical role, role-derived permissions, delegation links and company
// memberships.
func (a *API) principalForUser(ctx context.Context, user *auth.User) (auth.Principal, error) {
	role, err := auth.CanonicalRole(user.Role, user.LegacyRoles)
	if err != nil {
		return auth.Principal{}, err
	}
	principal := auth.Principal{
		UserID:       user.ID,
		Email:        user.Email,
		Username:     user.Username,
		Role:         role,
		Permissions:  auth.PermissionsForRole(role),
		IsSubAccount: user.IsSubAccount,
		AuthMode:     auth.ModeSession,
	}
	if user.IsManager {
		edges, err := a.store.Management(ctx).AcceptedForManager(ctx, user.ID)
		if err != nil {
			return auth.Principal{}, err
		}
		for _, edge := range edges {
			principal.ManagementLinks = append(principal.ManagementLinks, auth.ManagementLink{
				ManagedUserID: edge.ManagedUserID,
				Role:          edge.Role,
				Permissions:   auth.DelegatePermissionsForRole(edge.Role),
				Direction:     auth.DirectionManages,
			})
		}
	}
	memberships, err := a.store.Memberships(ctx).ForUser(ctx, user.ID)
	if err != nil {
		return auth.Principal{}, err
	}
	principal.CompanyMemberships = memberships
	return principal, nil
}

// issueSession signs an access token, persists a refresh token and sets the
// auth cookie.
func (a *API) issueSession(w http.ResponseWriter, r *http.Request, principal auth.Principal) (sessionResponse, error) {
	access, expiresAt, err := a.tokens.IssueAccessToken(principal, 0)
	if err != nil {
		return sessionResponse{}, err
	}
	refresh, err := a.tokens.IssueRefreshToken(r.Context(), principal.UserID)
	if err != nil {
		return sessionResponse{}, err
	}

	blob, err := json.Marshal(sessionCookiePayload{AccessToken: access})
	if err != nil {
		return sessionResponse{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    url.QueryEscape(string(blob)),
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	return sessionResponse{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		ExpiresAt:    expiresAt,
	}, nil
}
