package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"linkto.me/internal/audit"
	"linkto.me/internal/auth"
	"linkto.me/internal/config"
	"linkto.me/internal/obs"
	"linkto.me/internal/ratelimit"
)

// sessionCookieName holds a JSON blob carrying the access token, URL-escaped
// for cookie safety.
const sessionCookieName = "ltm_session"

type sessionCookiePayload struct {
	AccessToken string `json:"accessToken"`
}

// endpointSegment extracts the single handler-name segment after the class
// prefix. Deeper or empty paths do not resolve.
func endpointSegment(path, prefix string) string {
	seg := strings.TrimPrefix(path, prefix)
	seg = strings.Trim(seg, "/")
	if seg == "" || strings.Contains(seg, "/") {
		return ""
	}
	return seg
}

// dispatchAdmin runs the session pipeline: authenticate → flat rate limit →
// authorize → invoke.
func (a *API) dispatchAdmin(w http.ResponseWriter, r *http.Request) {
	seg := endpointSegment(r.URL.Path, "/admin/")
	endpoint := "admin/" + seg
	handler, ok := a.registry[endpoint]
	if seg == "" || !ok {
		a.writeError(w, r, http.StatusNotFound, "resource not found", "")
		return
	}

	principal, err := a.sessionPrincipal(w, r, endpoint)
	if err != nil {
		return // response already written
	}

	rl := a.limiter.Check(r.Context(), ratelimit.ClassSessionUser, principal.UserID, sessionRequestsPerMinute, time.Minute)
	if !rl.Allowed {
		a.writeRateLimited(w, r, rl, false)
		return
	}

	required, mapped := endpointPermissions[endpoint]
	if !mapped {
		// Unmapped endpoints fail closed on every path.
		a.writeError(w, r, http.StatusForbidden, "forbidden", "endpoint has no permission mapping")
		return
	}
	if !a.authorize(w, r, required, principal, endpoint) {
		return
	}

	a.invoke(handler, w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
}

// dispatchAPI runs the API key pipeline: resolve key → tiered rate limit →
// authorize → invoke, attaching quota headers to successful responses.
func (a *API) dispatchAPI(w http.ResponseWriter, r *http.Request) {
	seg := endpointSegment(r.URL.Path, "/api/v1/")
	// API endpoints alias to the same handler names as session routes.
	endpoint := "admin/" + seg
	handler, ok := a.registry[endpoint]
	if seg == "" || !ok {
		a.writeError(w, r, http.StatusNotFound, "resource not found", "")
		return
	}

	credential := auth.ExtractCredential(r.Header.Get("Authorization"), r.Header.Get("X-Api-Key"))
	if credential == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		audit.RecordSecurityEvent(r.Context(), "auth.apikey.missing", audit.Event{
			IP:       clientIP(r),
			Endpoint: endpoint,
		})
		a.writeError(w, r, http.StatusUnauthorized, "api key required", "")
		return
	}
	res, err := a.keys.Resolve(r.Context(), credential, clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnknownRole) {
			a.writeError(w, r, http.StatusForbidden, "forbidden", err.Error())
			return
		}
		if errors.Is(err, auth.ErrInvalidKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
			a.writeError(w, r, http.StatusUnauthorized, "invalid api key", err.Error())
			return
		}
		a.writeUnexpected(w, r, err)
		return
	}

	rl := a.limiter.CheckAPITiers(r.Context(), res.Key.KeyID, res.Principal.UserID, a.cfg.TierFor(res.Tier))
	if !rl.Allowed {
		a.writeRateLimited(w, r, rl, true)
		return
	}

	required, mapped := endpointPermissions[endpoint]
	if !mapped {
		a.writeError(w, r, http.StatusForbidden, "forbidden", "endpoint not permission-mapped for api access")
		return
	}
	if !a.authorize(w, r, required, res.Principal, endpoint) {
		return
	}

	// Quota headers go on successful responses only; rejections above carry
	// their own.
	setRateHeaders(w, rl)
	a.invoke(handler, w, r.WithContext(auth.ContextWithPrincipal(r.Context(), res.Principal)))
}

// dispatchPublic runs anonymous traffic, with the suspicion and anonymous
// rate-limit gates in front of the sensitive auth endpoints.
func (a *API) dispatchPublic(w http.ResponseWriter, r *http.Request) {
	seg := endpointSegment(r.URL.Path, "/public/")
	endpoint := "public/" + seg
	handler, ok := a.registry[endpoint]
	if seg == "" || !ok {
		a.writeError(w, r, http.StatusNotFound, "resource not found", "")
		return
	}

	if _, sensitive := sensitivePublicEndpoints[endpoint]; sensitive {
		limit := anonRequestsPerMinute
		score := a.scorer.Score(r)
		if a.scorer.IsLikelyBot(score) {
			obs.CountSuspectedBot()
			audit.RecordSecurityEvent(r.Context(), "auth.suspected_bot", audit.Event{
				IP:       clientIP(r),
				Endpoint: endpoint,
				Metadata: map[string]any{"score": score, "policy": string(a.cfg.BotPolicy)},
			})
			if a.cfg.BotPolicy == config.BotPolicyBlock {
				a.writeError(w, r, http.StatusBadRequest, "request rejected", fmt.Sprintf("suspicion score %d", score))
				return
			}
			limit = throttledRequestsPerMinute
		}
		rl := a.limiter.Check(r.Context(), ratelimit.ClassAuthAnonymous, clientIP(r), limit, time.Minute)
		if !rl.Allowed {
			a.writeRateLimited(w, r, rl, false)
			return
		}
	}

	a.invoke(handler, w, r)
}

// sessionPrincipal authenticates the admin auth cookie. On failure the
// response is written and a zero principal returned with an error.
func (a *API) sessionPrincipal(w http.ResponseWriter, r *http.Request, endpoint string) (auth.Principal, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		audit.RecordSecurityEvent(r.Context(), "auth.session.missing", audit.Event{
			IP:       clientIP(r),
			Endpoint: endpoint,
		})
		a.writeError(w, r, http.StatusUnauthorized, "authentication required", "")
		return auth.Principal{}, err
	}
	raw, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		a.writeError(w, r, http.StatusUnauthorized, "authentication required", "malformed auth cookie")
		return auth.Principal{}, err
	}
	var payload sessionCookiePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.AccessToken == "" {
		a.writeError(w, r, http.StatusUnauthorized, "authentication required", "malformed auth cookie")
		return auth.Principal{}, errors.New("malformed auth cookie")
	}

	principal, err := a.tokens.ValidateAccessToken(r.Context(), payload.AccessToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownRole) {
			a.writeError(w, r, http.StatusForbidden, "forbidden", err.Error())
			return auth.Principal{}, err
		}
		a.writeError(w, r, http.StatusUnauthorized, "invalid session", "")
		return auth.Principal{}, err
	}
	return principal, nil
}

// authorize runs the permission resolver and writes the 403 on denial. The
// internal reason goes to the audit sink, never to the client in
// production.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, required []string, principal auth.Principal, endpoint string) bool {
	q := r.URL.Query()
	decision := auth.Authorize(required, principal, q.Get("contextUserId"), q.Get("contextCompanyId"))
	if decision.Allowed {
		return true
	}
	audit.RecordSecurityEvent(r.Context(), "auth.permission.denied", audit.Event{
		UserID:   principal.UserID,
		IP:       clientIP(r),
		Endpoint: endpoint,
		Metadata: map[string]any{"reason": decision.Reason, "mode": string(principal.AuthMode)},
	})
	a.writeError(w, r, http.StatusForbidden, "forbidden", decision.Reason)
	return false
}

// invoke runs the business handler; a panic becomes a generic 500 with the
// detail kept server-side.
func (a *API) invoke(handler http.HandlerFunc, w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			a.writeUnexpected(w, r, fmt.Errorf("handler panic: %v", rec))
		}
	}()
	handler(w, r)
}

func (a *API) writeUnexpected(w http.ResponseWriter, r *http.Request, err error) {
	obs.LogError("unexpected handler failure", err, map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
	})
	a.writeError(w, r, http.StatusInternalServerError, "internal error", err.Error())
}

func (a *API) writeRateLimited(w http.ResponseWriter, r *http.Request, rl ratelimit.Result, apiRoute bool) {
	retry := int(rl.RetryAfter.Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	if apiRoute {
		setRateHeaders(w, rl)
	}
	a.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded", "")
}

func setRateHeaders(w http.ResponseWriter, rl ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
}
