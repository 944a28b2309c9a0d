// Package pulse provides a client for the hosted Agent Pulse liveness API
// and a helper that filters candidate agents down to the recently alive.
package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/pulse-cli/internal/resilience"
)

const (
	// DefaultBaseURL is the public Agent Pulse deployment.
	DefaultBaseURL = "https://agent-pulse-nine.vercel.app"
	// UserAgent is sent with every request.
	UserAgent = "pulse-cli/0.1.0"

	// msThreshold separates second timestamps from millisecond ones.
	msThreshold = 10_000_000_000
)

// ErrAPI is returned for responses that are not worth retrying.
var ErrAPI = eris.New("pulse: api error")

// Status is the liveness view returned by the API. Nil fields were absent
// from the response.
type Status struct {
	Address            string
	Alive              *bool
	LastPulseTimestamp *int64
	StreakCount        *int64
	Raw                map[string]any
}

// Client fetches agent liveness.
type Client interface {
	Status(ctx context.Context, address string) (*Status, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the cap.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRetry sets how many times a failed request is retried and the first
// backoff. Each later backoff doubles.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *httpClient) {
		c.retry.Attempts = maxRetries + 1
		c.retry.Initial = backoff
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewClient creates an Agent Pulse API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.Policy{
			Attempts:   4,
			Initial:    500 * time.Millisecond,
			Max:        8 * time.Second,
			Multiplier: 2,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Status(ctx context.Context, address string) (*Status, error) {
	norm, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	reqURL := fmt.Sprintf("%s/api/v2/agent/%s/alive", c.baseURL, norm)

	body, err := resilience.RetryValue(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, reqURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pulse: status %s", norm)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "pulse: unmarshal response")
	}
	return parseStatus(norm, payload), nil
}

func (c *httpClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "pulse: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pulse: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "pulse: request failed"), 0)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resilience.Transient(eris.Wrap(readErr, "pulse: read response body"), resp.StatusCode)
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	apiErr := eris.Wrapf(ErrAPI, "HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	if resilience.RetryableStatus(resp.StatusCode) {
		return nil, resilience.Transient(apiErr, resp.StatusCode)
	}
	return nil, apiErr
}

// parseStatus accepts both the documented shape (alive, lastPulse,
// streakCount) and the deployed one (isAlive, lastPulseTimestamp, streak).
func parseStatus(address string, payload map[string]any) *Status {
	s := &Status{Address: address, Raw: payload}

	alive := first(payload, "alive", "isAlive")
	if b, ok := alive.(bool); ok {
		s.Alive = &b
	}
	if ts, ok := toInt(first(payload, "lastPulse", "lastPulseTimestamp")); ok {
		if ts > msThreshold {
			ts /= 1000
		}
		s.LastPulseTimestamp = &ts
	}
	if n, ok := toInt(first(payload, "streakCount", "streak")); ok {
		s.StreakCount = &n
	}
	return s
}

func first(payload map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		var out int64
		if _, err := fmt.Sscan(n, &out); err != nil {
			return 0, false
		}
		return out, true
	default:
		return 0, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
