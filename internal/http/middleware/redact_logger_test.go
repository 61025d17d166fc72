package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf) // plain JSON lines
	return &buf
}

// Brokerage query strings carry supplier contact details; none of them may
// survive into the access log.
func TestRedactingLogger_ScrubsSupplierPII(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-API-Key"}}))
	r.GET("/intakes/:id", func(c *gin.Context) { c.String(http.StatusOK, "{}") })

	q := "contact_email=ops@acmeplastics.com&contact_phone=+1-555-123-4567" +
		"&intake=7f6b2c1a-4d2e-4a5b-9c3d-8e1f0a2b3c4d"
	req := httptest.NewRequest(http.MethodGet, "/intakes/7f6b2c1a?"+q, nil)
	req.Header.Set("Authorization", "Bearer scorer-credential")
	req.Header.Set("X-API-Key", "broker-integration-key")
	req.Header.Set("X-Supplier-Note", "call back ops@acmeplastics.com at 555-123-4567")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"info"`) {
		t.Fatalf("expected info log, got: %s", logs)
	}
	if !strings.Contains(logs, `"path":"/intakes/:id"`) {
		t.Fatalf("expected route pattern as path, got: %s", logs)
	}

	// No raw PII anywhere in the emitted line.
	for _, leak := range []string{"acmeplastics.com", "555-123-4567", "7f6b2c1a-4d2e", "scorer-credential", "broker-integration-key"} {
		if strings.Contains(logs, leak) {
			t.Fatalf("PII %q leaked into log: %s", leak, logs)
		}
	}
	for _, tag := range []string{"[REDACTED:email]", "[REDACTED:phone]", "[REDACTED:id]"} {
		if !strings.Contains(logs, tag) {
			t.Fatalf("missing %s redaction, got: %s", tag, logs)
		}
	}
	if !strings.Contains(logs, `"Authorization":"[REDACTED]"`) {
		t.Fatalf("Authorization must be fully masked: %s", logs)
	}
	if !strings.Contains(logs, `"X-Api-Key":"[REDACTED]"`) {
		t.Fatalf("configured header must be fully masked: %s", logs)
	}
	if !strings.Contains(logs, `"X-Supplier-Note":"call back [REDACTED:email] at [REDACTED:phone]"`) {
		t.Fatalf("free-text header not pattern-redacted: %s", logs)
	}
}

func TestRedactingLogger_SeverityAndRequestIDFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	// No RequestID middleware in front, so the logger falls back to the
	// incoming X-Request-ID header.
	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.POST("/loads/:id/dispatch", func(c *gin.Context) { c.Status(http.StatusConflict) })
	r.POST("/intakes/:id/match", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	reqWarn := httptest.NewRequest(http.MethodPost, "/loads/ld-1/dispatch", nil)
	reqWarn.Header.Set("X-Request-ID", "rid-dispatch")
	r.ServeHTTP(httptest.NewRecorder(), reqWarn)

	reqErr := httptest.NewRequest(http.MethodPost, "/intakes/in-1/match", nil)
	reqErr.Header.Set("X-Request-ID", "rid-match")
	r.ServeHTTP(httptest.NewRecorder(), reqErr)

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"request_id":"rid-dispatch"`) {
		t.Fatalf("409 must log warn with the request header id: %s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"request_id":"rid-match"`) {
		t.Fatalf("502 must log error with the request header id: %s", logs)
	}
}
