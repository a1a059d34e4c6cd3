package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://gmail.googleapis.com/gmail/v1"
	defaultUploadURL = "https://gmail.googleapis.com/upload/gmail/v1"
	maxRetries       = 5
	maxBackoff       = 60 // seconds
)

// Client talks to the Gmail REST API with rate limiting and retry on
// transient failures. It implements API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	userID     string
	baseURL    string
	uploadURL  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithBaseURLs overrides the API endpoints, for tests.
func WithBaseURLs(base, upload string) ClientOption {
	return func(c *Client) {
		c.baseURL = base
		c.uploadURL = upload
	}
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithUserID sets the Gmail userId the client acts on, usually the target
// account's email address. Empty keeps the default "me".
func WithUserID(id string) ClientOption {
	return func(c *Client) {
		if id != "" {
			c.userID = id
		}
	}
}

// NewClient creates a Gmail client over the given token source.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: oauth2.NewClient(context.Background(), tokenSource),
		limiter:    rate.NewLimiter(rate.Limit(5.0), 1),
		logger:     slog.Default(),
		userID:     "me",
		baseURL:    defaultBaseURL,
		uploadURL:  defaultUploadURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request performs one HTTP call with rate limiting and retries on 429,
// 5xx, and network errors. contentType is required when body is non-nil.
func (c *Client) request(ctx context.Context, method, rawURL, contentType string, bodyBytes []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			c.logger.Debug("retrying gmail request", "attempt", attempt, "backoff", backoff, "url", rawURL)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		switch resp.StatusCode {
		case 429:
			c.logger.Debug("gmail rate limited", "url", rawURL, "attempt", attempt)
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case 500, 502, 503, 504:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		case 403:
			if bytes.Contains(respBody, []byte("rateLimitExceeded")) ||
				bytes.Contains(respBody, []byte("userRateLimitExceeded")) {
				c.logger.Debug("gmail quota exceeded", "url", rawURL, "attempt", attempt)
				lastErr = fmt.Errorf("quota exceeded (403)")
				continue
			}
			return nil, fmt.Errorf("forbidden (403): %s", respBody)
		default:
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, respBody)
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns exponential backoff with full jitter.
func calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	return time.Duration(rand.Float64() * base * float64(time.Second))
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	data, err := c.request(ctx, "GET", fmt.Sprintf("%s/users/%s/profile", c.baseURL, c.userID), "", nil)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &p, nil
}

// ListLabels returns every label on the account.
func (c *Client) ListLabels(ctx context.Context) ([]*Label, error) {
	data, err := c.request(ctx, "GET", fmt.Sprintf("%s/users/%s/labels", c.baseURL, c.userID), "", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Labels []*Label `json:"labels"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	return resp.Labels, nil
}

// CreateLabel creates a user label visible in both the label list and the
// message list.
func (c *Client) CreateLabel(ctx context.Context, name string) (*Label, error) {
	body, err := json.Marshal(map[string]string{
		"name":                  name,
		"labelListVisibility":   "labelShow",
		"messageListVisibility": "show",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal label: %w", err)
	}
	data, err := c.request(ctx, "POST", fmt.Sprintf("%s/users/%s/labels", c.baseURL, c.userID), "application/json", body)
	if err != nil {
		return nil, err
	}
	var label Label
	if err := json.Unmarshal(data, &label); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	if label.ID == "" {
		return nil, &IngestError{Status: 200, Body: string(data)}
	}
	return &label, nil
}

// Ingest uploads a raw RFC822 message via the multipart upload endpoint and
// returns the assigned message and thread IDs.
func (c *Client) Ingest(ctx context.Context, raw []byte, labelIDs []string, mode Mode, dateSource DateSource) (*IngestResult, error) {
	meta := map[string]any{}
	if len(labelIDs) > 0 {
		meta["labelIds"] = labelIDs
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	jsonHeader := textproto.MIMEHeader{}
	jsonHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(jsonHeader)
	if err != nil {
		return nil, fmt.Errorf("create metadata part: %w", err)
	}
	if _, err := part.Write(metadata); err != nil {
		return nil, fmt.Errorf("write metadata part: %w", err)
	}

	msgHeader := textproto.MIMEHeader{}
	msgHeader.Set("Content-Type", "message/rfc822")
	part, err = mw.CreatePart(msgHeader)
	if err != nil {
		return nil, fmt.Errorf("create message part: %w", err)
	}
	if _, err := part.Write(raw); err != nil {
		return nil, fmt.Errorf("write message part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	params := url.Values{}
	params.Set("uploadType", "multipart")
	params.Set("internalDateSource", string(dateSource))

	endpoint := "import"
	if mode == ModeInsert {
		endpoint = "insert"
	}
	rawURL := fmt.Sprintf("%s/users/%s/messages/%s?%s", c.uploadURL, c.userID, endpoint, params.Encode())
	contentType := "multipart/related; boundary=" + mw.Boundary()

	data, err := c.request(ctx, "POST", rawURL, contentType, buf.Bytes())
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID       string   `json:"id"`
		ThreadID string   `json:"threadId"`
		LabelIDs []string `json:"labelIds"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse ingest response: %w", err)
	}
	if resp.ID == "" {
		return nil, &IngestError{Status: 200, Body: string(data)}
	}
	return &IngestResult{MessageID: resp.ID, ThreadID: resp.ThreadID, LabelIDs: resp.LabelIDs}, nil
}

var _ API = (*Client)(nil)
