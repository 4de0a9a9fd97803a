package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"linkto.me/internal/auth"
	"linkto.me/internal/profile"
)

// targetUserID picks the account a profile operation acts on. The gate
// pipeline has already authorized access to contextUserId when present,
// so the handler only needs to select it.
func targetUserID(r *http.Request) string {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if ctxUser := r.URL.Query().Get("contextUserId"); ctxUser != "" {
		return ctxUser
	}
	return principal.UserID
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, err := a.profiles.Get(r.Context(), targetUserID(r))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			a.writeError(w, r, http.StatusNotFound, "profile not found", "")
			return
		}
		a.writeUnexpected(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": p})
}

type updateProfileRequest struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		a.methodNotAllowed(w, r, http.MethodPost, http.MethodPut)
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if len(req.DisplayName) > 120 {
		a.writeError(w, r, http.StatusBadRequest, "displayName exceeds 120 characters", "")
		return
	}
	if len(req.Bio) > 2000 {
		a.writeError(w, r, http.StatusBadRequest, "bio exceeds 2000 characters", "")
		return
	}

	p := &profile.Profile{
		UserID:      targetUserID(r),
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	}
	if err := a.profiles.Update(r.Context(), p); err != nil {
		a.writeUnexpected(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": p})
}

func (a *API) handleGetLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	links, err := a.profiles.Links(r.Context(), targetUserID(r))
	if err != nil {
		a.writeUnexpected(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}
