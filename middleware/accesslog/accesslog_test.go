package accesslog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestMiddleware_GeneratesRequestIDAndLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var seenID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get(HeaderRequestID)
		FromContext(r.Context()).Info("inside")
		w.Header().Set("X-Key-Type", "ip")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	})

	w := httptest.NewRecorder()
	Middleware(base)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/x", nil))

	if _, err := uuid.Parse(seenID); err != nil {
		t.Fatalf("expected uuid request id, got %q", seenID)
	}
	if got := w.Header().Get(HeaderRequestID); got != seenID {
		t.Fatalf("expected response request id %q, got %q", seenID, got)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[1], &entry); err != nil {
		t.Fatalf("invalid log json: %v", err)
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["bytes"] != float64(5) {
		t.Fatalf("unexpected access entry: %v", entry)
	}
	if entry["request_id"] != seenID || entry["key_type"] != "ip" {
		t.Fatalf("expected request fields on access entry: %v", entry)
	}
}

func TestMiddleware_PropagatesIncomingRequestID(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	Middleware(base)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, r)

	if got := w.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("expected propagated id, got %q", got)
	}
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	if FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()) == nil {
		t.Fatalf("expected default logger")
	}
}
