package newsletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the newsletter API client.
type Config struct {
	// BaseURL is the root URL of the newsletter server.
	// Examples: "https://news.example.org" or "https://news.example.org/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// Token is the operator bearer token, required for every admin call.
	Token string

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with a 10 minute timeout is used, since
	// sending a campaign waits for the whole dispatch.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client calls the newsletter HTTP API.
type Client struct {
	cfg Config
}

// NewClient creates a new client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// Subscribe starts a double opt-in subscription. The address receives a
// confirmation email.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscriber, error) {
	var sub Subscriber
	if err := c.do(ctx, http.MethodPost, "/subscribers", req, false, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe deactivates an address. It reports false when the address was
// unknown or already inactive.
func (c *Client) Unsubscribe(ctx context.Context, email string) (bool, error) {
	var resp struct {
		Unsubscribed bool `json:"unsubscribed"`
	}
	if err := c.do(ctx, http.MethodPost, "/subscribers/unsubscribe", map[string]string{"email": email}, false, &resp); err != nil {
		return false, err
	}
	return resp.Unsubscribed, nil
}

// SubscriberStats returns subscriber counts.
func (c *Client) SubscriberStats(ctx context.Context) (*SubscriberStats, error) {
	var stats SubscriberStats
	if err := c.do(ctx, http.MethodGet, "/admin/subscribers/stats", nil, true, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ExportSubscribers streams the subscriber CSV export into w.
func (c *Client) ExportSubscribers(ctx context.Context, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, "/admin/subscribers/export", nil, true)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("newsletter: failed to read export: %w", err)
	}
	return n, nil
}

// CreateCampaign creates a draft or scheduled campaign, or sends it right
// away when SendNow is set.
func (c *Client) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*CreateCampaignResponse, error) {
	var resp CreateCampaignResponse
	if err := c.do(ctx, http.MethodPost, "/admin/campaigns", req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListCampaigns returns a page of campaigns, newest first.
func (c *Client) ListCampaigns(ctx context.Context, opts ListCampaignsOptions) (*CampaignList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/admin/campaigns"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list CampaignList
	if err := c.do(ctx, http.MethodGet, path, nil, true, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetCampaign retrieves a campaign by ID.
func (c *Client) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	var campaign Campaign
	if err := c.do(ctx, http.MethodGet, "/admin/campaigns/"+url.PathEscape(id), nil, true, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// CampaignHistory returns the lifecycle events of a campaign, newest first.
// A limit of zero uses the server default.
func (c *Client) CampaignHistory(ctx context.Context, id string, limit int) ([]AuditEntry, error) {
	path := "/admin/campaigns/" + url.PathEscape(id) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// UpdateCampaign edits a campaign that has not been sent.
func (c *Client) UpdateCampaign(ctx context.Context, id string, req UpdateCampaignRequest) (*Campaign, error) {
	var campaign Campaign
	if err := c.do(ctx, http.MethodPatch, "/admin/campaigns/"+url.PathEscape(id), req, true, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// DeleteCampaign deletes a campaign that has not been sent.
func (c *Client) DeleteCampaign(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/campaigns/"+url.PathEscape(id), nil, true, nil)
}

// SendCampaign dispatches a draft or scheduled campaign and waits for the
// summary. A campaign that is not sendable returns an *APIError with code
// "campaign_not_sendable".
func (c *Client) SendCampaign(ctx context.Context, id string) (*DispatchSummary, error) {
	var summary DispatchSummary
	if err := c.do(ctx, http.MethodPost, "/admin/campaigns/"+url.PathEscape(id)+"/send", nil, true, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ForceSchedulerCheck runs an immediate scheduler scan on the server.
func (c *Client) ForceSchedulerCheck(ctx context.Context) (*ScanResult, error) {
	var result ScanResult
	if err := c.do(ctx, http.MethodPost, "/admin/scheduler/check", nil, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendTestEmail sends a diagnostic email through the configured provider.
func (c *Client) SendTestEmail(ctx context.Context, to string) error {
	return c.do(ctx, http.MethodPost, "/admin/email/test", map[string]string{"to": to}, true, nil)
}

// do sends a JSON request and decodes the JSON response into out when set.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, operator bool, out interface{}) error {
	resp, err := c.send(ctx, method, path, payload, operator)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("newsletter: failed to parse response: %w", err)
	}
	return nil
}

// send performs the request and turns error statuses into *APIError.
// The caller closes the body of a successful response.
func (c *Client) send(ctx context.Context, method, path string, payload interface{}, operator bool) (*http.Response, error) {
	if operator && c.cfg.Token == "" {
		return nil, ErrNoToken
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("newsletter: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("newsletter: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if operator {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsletter: request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("newsletter: failed to read response: %w", err)
		}
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return resp, nil
}
