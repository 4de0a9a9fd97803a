package audit

import (
	"context"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ada.lovelace@example.com", "ada***@example.com"},
		{"bob@example.com", "bob***@example.com"},
		{"ab@example.com", "ab***@example.com"},
		{"a@b.co", "a***@b.co"},
		{"not-an-email", "***"},
		{"@example.com", "***"},
		{"trailing@", "***"},
		{"", "***"},
		{"  spaced@example.com  ", "spa***@example.com"},
	}
	for _, tc := range cases {
		if got := RedactEmail(tc.in); got != tc.want {
			t.Fatalf("RedactEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := requestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("unexpected request id: %q", got)
	}
	if got := requestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
	// Blank ids are not attached.
	ctx = WithRequestID(context.Background(), "  ")
	if got := requestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty id for blank input, got %q", got)
	}
}

func TestRecordSecurityEventNeverPanics(t *testing.T) {
	// Empty event type is dropped; a populated event writes a log line.
	RecordSecurityEvent(context.Background(), "", Event{})
	RecordSecurityEvent(context.Background(), "auth.test", Event{
		UserID:   "user-1",
		Email:    "ada@example.com",
		IP:       "203.0.113.9",
		Endpoint: "public/login",
		Metadata: map[string]any{"reason": "test"},
	})
}
