// Package backend is a REST client for the hosted backend that owns the
// marketplace tables, RPCs and serverless functions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/batch"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
	"github.com/andrew12-circle/circle-marketplace/internal/resilience"
)

const (
	bulkResearchPath   = "/functions/v1/bulk-research"
	enhancedCheckPath  = "/rest/v1/rpc/admin_self_check_enhanced"
	adminStatusPath    = "/rest/v1/rpc/get_user_admin_status"
	profilesPath       = "/rest/v1/profiles"
	profileColumns     = "user_id,display_name,email,is_admin,specialties"
	maxErrorBodyLength = 512
)

// Client talks to the backend on behalf of one signed-in user.
type Client struct {
	baseURL     string
	anonKey     string
	accessToken string
	http        *http.Client
	limiter     *rate.Limiter
}

var (
	_ batch.Client     = (*Client)(nil)
	_ adminauth.Source = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout overrides the per-request timeout (default 120s). A bulk
// research page runs one LLM call per item, so it needs a long one.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit overrides the default 5 req/s. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// NewClient creates a Client for the backend at baseURL. anonKey is the
// project's public key; accessToken is the user's session JWT.
func NewClient(baseURL, anonKey, accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		anonKey:     anonKey,
		accessToken: accessToken,
		http:        &http.Client{Timeout: 120 * time.Second},
		limiter:     rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunPage invokes the bulk research function for one page. The call is
// never retried here; a failed page ends the run.
func (c *Client) RunPage(ctx context.Context, req batch.PageRequest) (*batch.PageResponse, error) {
	var resp batch.PageResponse
	if err := c.do(ctx, http.MethodPost, bulkResearchPath, nil, req, &resp); err != nil {
		return nil, eris.Wrap(err, "backend: bulk research")
	}
	return &resp, nil
}

// EnhancedAdminCheck calls the enhanced self-check RPC.
func (c *Client) EnhancedAdminCheck(ctx context.Context, userID string) (*adminauth.EnhancedChecks, error) {
	var checks adminauth.EnhancedChecks
	if err := c.do(ctx, http.MethodPost, enhancedCheckPath, nil, map[string]string{"user_id": userID}, &checks); err != nil {
		return nil, eris.Wrap(err, "backend: enhanced admin check")
	}
	return &checks, nil
}

// IsAdmin calls the basic admin status RPC.
func (c *Client) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var isAdmin bool
	if err := c.do(ctx, http.MethodPost, adminStatusPath, nil, map[string]string{"user_id": userID}, &isAdmin); err != nil {
		return false, eris.Wrap(err, "backend: admin status")
	}
	return isAdmin, nil
}

// GetProfile reads the user's profile row. Returns nil when there is none.
func (c *Client) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("select", profileColumns)

	var rows []model.Profile
	if err := c.do(ctx, http.MethodGet, profilesPath, q, nil, &rows); err != nil {
		return nil, eris.Wrapf(err, "backend: get profile %s", userID)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// do sends one JSON request and decodes a 2xx body into out. Throttle and
// server-side failures come back as resilience.TransientError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := eris.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, errorMessage(data))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(httpErr, resp.StatusCode)
		}
		return httpErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

// bearer is the session token, falling back to the anon key.
func (c *Client) bearer() string {
	if c.accessToken != "" {
		return c.accessToken
	}
	return c.anonKey
}

// errorMessage pulls a readable message out of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			return payload.Error
		case payload.Message != "":
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBodyLength {
		msg = msg[:maxErrorBodyLength] + "..."
	}
	if msg == "" {
		return "empty body"
	}
	return msg
}
