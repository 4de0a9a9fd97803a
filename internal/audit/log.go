package audit

import (
	"context"
	"strings"
	"time"

	"linkto.me/internal/ids"
	"linkto.me/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event carries the optional fields of a security event. Email is redacted
// before it reaches the sink; callers pass the raw address.
type Event struct {
	UserID   string
	Email    string
	IP       string
	Endpoint string
	Metadata map[string]any
}

// RecordSecurityEvent writes a security audit entry to the log sink.
// It is fire-and-forget: it never returns an error and never panics back
// into the request path.
func RecordSecurityEvent(ctx context.Context, eventType string, ev Event) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return
	}
	entry := map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"type":     "security_audit",
		"event":    eventType,
		"event_id": ids.New(),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if ev.UserID != "" {
		entry["user_id"] = ev.UserID
	}
	if ev.Email != "" {
		entry["email"] = RedactEmail(ev.Email)
	}
	if ev.IP != "" {
		entry["ip"] = ev.IP
	}
	if ev.Endpoint != "" {
		entry["endpoint"] = ev.Endpoint
	}
	if len(ev.Metadata) > 0 {
		fields := make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			fields[k] = v
		}
		entry["fields"] = fields
	}
	obs.LogRequest(entry)
}

// RedactEmail keeps the first three characters of the local part plus the
// domain, masking the rest. Addresses that do not look like emails are fully
// masked.
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 3 {
		return local + "***@" + domain
	}
	return local[:3] + "***@" + domain
}
