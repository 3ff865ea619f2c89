package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newCapture() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	return &buf, slog.New(&RedactingHandler{base: base})
}

func TestRedactsAuthHeaders(t *testing.T) {
	buf, logger := newCapture()

	logger.Info("test",
		slog.String("authorization", "Bearer at-secret"),
		slog.String("id_token", "eyJhbGciOiJSUzI1NiJ9.claims.sig"),
		slog.String("method", "POST"),
	)

	output := buf.String()
	if strings.Contains(output, "at-secret") {
		t.Error("authorization header value should be redacted")
	}
	if strings.Contains(output, "eyJhbGciOiJSUzI1NiJ9") {
		t.Error("id_token value should be redacted")
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Error("expected [REDACTED] placeholder")
	}
	if !strings.Contains(output, "POST") {
		t.Error("non-sensitive values should be preserved")
	}
}

func TestRedactsMemberIdentifiers(t *testing.T) {
	buf, logger := newCapture()

	logger.Info("test",
		slog.String("membershipId", "M-99887766"),
		slog.String("member_id", "M-11223344"),
		slog.String("provider_id", "P1"),
	)

	output := buf.String()
	if strings.Contains(output, "M-99887766") {
		t.Error("membershipId value should be redacted")
	}
	if strings.Contains(output, "M-11223344") {
		t.Error("member_id value should be redacted")
	}
	if !strings.Contains(output, "P1") {
		t.Error("provider identifiers are not sensitive and should be preserved")
	}
}

func TestRedactsBodies(t *testing.T) {
	buf, logger := newCapture()

	logger.Info("test",
		slog.String("body", `{"membershipId":"M-1"}`),
		slog.String("request_body", "raw request"),
		slog.String("response_body", "raw response"),
	)

	output := buf.String()
	for _, leak := range []string{"M-1", "raw request", "raw response"} {
		if strings.Contains(output, leak) {
			t.Errorf("body content %q should be redacted", leak)
		}
	}
}

func TestRedactsTokensAndSecrets(t *testing.T) {
	buf, logger := newCapture()

	logger.Info("test",
		slog.String("access_token", "at-abc123"),
		slog.String("client_secret", "cs-secret"),
		slog.String("db_password", "hunter2"),
	)

	output := buf.String()
	for _, leak := range []string{"at-abc123", "cs-secret", "hunter2"} {
		if strings.Contains(output, leak) {
			t.Errorf("value %q should be redacted", leak)
		}
	}
}

func TestRedactingHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}

	child := handler.WithAttrs([]slog.Attr{
		slog.String("authorization", "Bearer leaked"),
		slog.String("method", "GET"),
	})
	slog.New(child).Info("request")

	output := buf.String()
	if strings.Contains(output, "leaked") {
		t.Error("authorization in WithAttrs should be redacted")
	}
	if !strings.Contains(output, "GET") {
		t.Error("non-sensitive WithAttrs value should be preserved")
	}
}

func TestRedactingHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}

	slog.New(handler.WithGroup("request")).Info("test", slog.String("path", "/v1/estimate"))

	output := buf.String()
	if !strings.Contains(output, "request") {
		t.Error("group name should appear in output")
	}
	if !strings.Contains(output, "/v1/estimate") {
		t.Error("attribute within group should be preserved")
	}
}

func TestRedactingHandlerEnabled(t *testing.T) {
	base := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := &RedactingHandler{base: base}

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled when level is warn")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestSetLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run("level_"+tc.input, func(t *testing.T) {
			SetLevel(tc.input)
			if globalLevel.Level() != tc.expected {
				t.Errorf("SetLevel(%q): got %v, want %v", tc.input, globalLevel.Level(), tc.expected)
			}
		})
	}
	SetLevel("info")
}

func TestRequestLoggerLogsFields(t *testing.T) {
	buf, logger := newCapture()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := httptest.NewServer(RequestLogger(logger)(inner))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/v1/estimate", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}

	if msg, _ := entry["msg"].(string); msg != "http_request" {
		t.Errorf("expected msg 'http_request', got %v", entry["msg"])
	}
	if path, _ := entry["path"].(string); path != "/v1/estimate" {
		t.Errorf("expected path '/v1/estimate', got %v", entry["path"])
	}
	if status, _ := entry["status"].(float64); int(status) != 200 {
		t.Errorf("expected status 200, got %v", entry["status"])
	}
	if reqID, _ := entry["request_id"].(string); reqID != "req-42" {
		t.Errorf("expected request_id 'req-42', got %v", entry["request_id"])
	}
}

func TestSetupReturnsLogger(t *testing.T) {
	if Setup("info") == nil {
		t.Error("expected non-nil logger")
	}
}
