// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the shared response helpers. Every endpoint writes the
// same envelopes: plain JSON for success and ErrorResponse for failure, so
// dispatch clients and warehouse integrations can branch on a stable `code`
// instead of parsing messages.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "invalid_transition",
//	  "message": "cannot dispatch from awaiting_ready"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plasticos/go-broker-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint. RequestID
// echoes X-Request-ID so a client report can be matched to server logs; Code
// is one of the errors.go constants and is the only field integrations
// should branch on.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"invalid_transition"`
	Message   string `json:"message" example:"cannot dispatch from awaiting_ready"`
}

// fail aborts the request with the standard error envelope. Server-side
// failures (>= 500) additionally go to the request-scoped logger; 4xx are
// the caller's problem and stay out of the error log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to the router for its NoRoute and NoMethod handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes 204 for operations with nothing to return.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
