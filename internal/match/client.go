// Package match owns the boundary to the external buyer-scoring service.
//
// This file implements the HTTP client: a bearer-authenticated JSON POST with
// an explicit timeout, response-shape validation, and optional canary routing
// of a percentage of emissions to a secondary endpoint.
package match

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// ErrInvalidResponse indicates the scorer returned something other than a
// JSON object with a well-formed ranked_buyers array.
var ErrInvalidResponse = errors.New("invalid scorer response")

// StatusError is returned for non-2xx responses, preserving the status code
// and a bounded slice of the body for logging.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("scorer returned status %d: %s", e.StatusCode, e.Body)
}

// RankedBuyer is one scored candidate from the response.
type RankedBuyer struct {
	BuyerRef string  `json:"buyer_ref,omitempty"`
	Score    float64 `json:"score"`
}

// Response is the validated scorer response. Raw preserves the exact bytes
// for the writeback so nothing is lost in the typed view.
type Response struct {
	RankedBuyers []RankedBuyer `json:"ranked_buyers"`
	Raw          json.RawMessage
}

// TopScore returns the first ranked buyer's score, if any.
func (r *Response) TopScore() (float64, bool) {
	if len(r.RankedBuyers) == 0 {
		return 0, false
	}
	return r.RankedBuyers[0].Score, true
}

// CanaryConfig routes a percentage of emissions to a canary endpoint when
// enabled. Percent is clamped to [0,100].
type CanaryConfig struct {
	Enabled  bool
	Percent  int
	Endpoint string
}

// Client posts packets to the scoring service.
//
// The zero value is not usable; construct with NewClient. All methods are
// safe for concurrent use.
type Client struct {
	endpoint string
	apiKey   string
	canary   CanaryConfig
	http     *http.Client

	// roll returns a number in [1,100]; injected for deterministic tests.
	roll func() int
}

// NewClient builds a Client with the given endpoint, bearer credential, and
// request timeout. A timeout <= 0 falls back to 30 seconds — the call must
// never wait forever.
func NewClient(endpoint, apiKey string, timeout time.Duration, canary CanaryConfig) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		canary:   canary,
		http:     &http.Client{Timeout: timeout},
		roll:     func() int { return rand.Intn(100) + 1 },
	}
}

// ResolveEndpoint picks the endpoint for this emission: the canary endpoint
// for the configured percentage of rolls, otherwise the primary.
func (c *Client) ResolveEndpoint() string {
	if !c.canary.Enabled || c.canary.Endpoint == "" || c.canary.Percent <= 0 {
		return c.endpoint
	}
	pct := c.canary.Percent
	if pct > 100 {
		pct = 100
	}
	if c.roll() <= pct {
		return c.canary.Endpoint
	}
	return c.endpoint
}

// Emit POSTs body to the resolved endpoint and validates the response shape.
// Transport failures, timeouts, and non-2xx statuses surface as errors; the
// caller decides how to persist and propagate them.
func (c *Client) Emit(ctx context.Context, body []byte) (*Response, error) {
	return c.post(ctx, c.ResolveEndpoint(), body)
}

// EmitShadow POSTs body to the given shadow endpoint. Used after a successful
// primary emission to compare scorers; errors here are the caller's to log,
// never to fail the run on.
func (c *Client) EmitShadow(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	return c.post(ctx, endpoint, body)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emit packet: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: clip(raw, 512)}
	}
	return ParseResponse(raw)
}

// ParseResponse validates the scorer response shape: a JSON object with a
// ranked_buyers array whose entries carry a numeric score in [0,1]. Any
// violation returns an error wrapping ErrInvalidResponse.
func ParseResponse(raw []byte) (*Response, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidResponse)
	}
	rbRaw, ok := obj["ranked_buyers"]
	if !ok {
		return nil, fmt.Errorf("%w: missing ranked_buyers", ErrInvalidResponse)
	}
	var buyers []RankedBuyer
	if err := json.Unmarshal(rbRaw, &buyers); err != nil {
		return nil, fmt.Errorf("%w: ranked_buyers must be an array of objects", ErrInvalidResponse)
	}
	for i, b := range buyers {
		if b.Score < 0 || b.Score > 1 {
			return nil, fmt.Errorf("%w: ranked_buyers[%d].score %v out of range [0,1]", ErrInvalidResponse, i, b.Score)
		}
	}
	return &Response{RankedBuyers: buyers, Raw: json.RawMessage(raw)}, nil
}

// clip bounds body excerpts kept in errors.
func clip(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
