package httpapi

import (
	"errors"
	"net/http"
	"time"

	"linkto.me/internal/audit"
	"linkto.me/internal/auth"
)

type createKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type apiKeyView struct {
	KeyID          string     `json:"keyId"`
	Name           string     `json:"name"`
	Permissions    []string   `json:"permissions"`
	Active         bool       `json:"active"`
	DisabledReason string     `json:"disabledReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	LastUsedIP     string     `json:"lastUsedIp,omitempty"`
}

func viewKey(key *auth.APIKey) apiKeyView {
	v := apiKeyView{
		KeyID:          key.KeyID,
		Name:           key.Name,
		Permissions:    key.Permissions,
		Active:         key.Active,
		DisabledReason: key.DisabledReason,
		CreatedAt:      key.CreatedAt,
		LastUsedIP:     key.LastUsedIP,
	}
	if !key.LastUsedAt.IsZero() {
		t := key.LastUsedAt
		v.LastUsedAt = &t
	}
	return v
}

func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	perms := req.Permissions
	if len(perms) == 0 {
		perms = principal.Permissions
	}
	// A key can never be issued beyond the permissions of the account
	// creating it.
	for _, p := range perms {
		if !principal.HasPermission(p) {
			a.writeError(w, r, http.StatusForbidden, "requested permissions exceed account permissions", p)
			return
		}
	}

	fullKey, key, err := a.keys.Issue(r.Context(), principal.UserID, req.Name, perms)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			a.writeError(w, r, http.StatusBadRequest, err.Error(), "")
			return
		}
		a.writeUnexpected(w, r, err)
		return
	}

	audit.RecordSecurityEvent(r.Context(), "apikey.created", audit.Event{
		UserID:   principal.UserID,
		IP:       clientIP(r),
		Endpoint: "admin/createApiKey",
		Metadata: map[string]any{"key_id": key.KeyID},
	})
	// The full key is shown exactly once; only the hash survives.
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":    fullKey,
		"apiKey": viewKey(key),
	})
}

func (a *API) handleGetAPIKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	keys, err := a.store.APIKeys(r.Context()).ListByOwner(r.Context(), principal.UserID)
	if err != nil {
		a.writeUnexpected(w, r, err)
		return
	}
	views := make([]apiKeyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, viewKey(key))
	}
	writeJSON(w, http.StatusOK, map[string]any{"apiKeys": views})
}

type revokeKeyRequest struct {
	KeyID string `json:"keyId"`
}

func (a *API) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req revokeKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.KeyID == "" {
		a.writeError(w, r, http.StatusBadRequest, "keyId is required", "")
		return
	}

	key, err := a.store.APIKeys(r.Context()).FindByKeyID(r.Context(), req.KeyID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			a.writeError(w, r, http.StatusNotFound, "api key not found", "")
			return
		}
		a.writeUnexpected(w, r, err)
		return
	}
	if key.UserID != principal.UserID && !principal.HasPermission(auth.PermAdminUsers) {
		a.writeError(w, r, http.StatusForbidden, "forbidden", "key belongs to another account")
		return
	}

	if err := a.store.APIKeys(r.Context()).Disable(r.Context(), req.KeyID, "revoked by owner"); err != nil {
		a.writeUnexpected(w, r, err)
		return
	}
	audit.RecordSecurityEvent(r.Context(), "apikey.revoked", audit.Event{
		UserID:   principal.UserID,
		IP:       clientIP(r),
		Endpoint: "admin/revokeApiKey",
		Metadata: map[string]any{"key_id": req.KeyID},
	})
	w.WriteHeader(http.StatusNoContent)
}
