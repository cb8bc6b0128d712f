package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sort"
	"strings"
	"time"

	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	apiVersion = "1.0"
	apiInput   = "3"

	// NullToken signs the first handshake call, before any token exists.
	NullToken = "null"

	// invalidTokenKey is the error key the gateway uses to reject a request token.
	invalidTokenKey = "VALID_TOKEN_REQUIRED"

	maxErrorBody = 4 * 1024
)

// Client talks to the three endpoints of the catalog service: the signed gateway,
// the stream-location endpoint and the public metadata API.
type Client struct {
	httpClient *http.Client
	gatewayURL string
	mediaURL   string
	publicURL  string
	limiter    *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit paces gateway, stream-location and metadata requests. Zero or a
// negative value disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewHTTPClient builds an instrumented client with a cookie jar. The handshake
// relies on the session cookie set by the first call.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &http.Client{
		Timeout:   timeout,
		Jar:       jar,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, nil
}

func New(gatewayURL, mediaURL, publicURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		gatewayURL: gatewayURL,
		mediaURL:   mediaURL,
		publicURL:  strings.TrimRight(publicURL, "/"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type gatewayResponse struct {
	Error   json.RawMessage `json:"error"`
	Results json.RawMessage `json:"results"`
}

// Call performs one signed gateway request and returns the raw results object.
// A non-empty error payload is returned as *media.APIError.
func (c *Client) Call(ctx context.Context, method, apiToken string, params map[string]any) (json.RawMessage, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", method)

	body := make(map[string]any, len(params)+4)
	for k, v := range params {
		body[k] = v
	}

	body["method"] = method
	body["api_version"] = apiVersion
	body["api_token"] = apiToken
	body["input"] = apiInput

	var resp gatewayResponse
	if err := c.postJSON(ctx, "gateway_call", c.gatewayURL, body, &resp); err != nil {
		return nil, err
	}

	if err := parseServiceError(resp.Error); err != nil {
		logger.DebugContext(ctx, "gateway reported an error", "err", err)

		return nil, err
	}

	return resp.Results, nil
}

// parseServiceError turns the open-ended error payload into a closed APIError.
// An absent payload, an empty object and an empty array all mean success.
func parseServiceError(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil && len(items) == 0 {
			return nil
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err == nil {
			if len(fields) == 0 {
				return nil
			}

			if v, ok := fields[invalidTokenKey]; ok {
				return &media.APIError{Code: media.CodeInvalidToken, Details: invalidTokenKey + ": " + text(v)}
			}

			return &media.APIError{Code: media.CodeOther, Details: describe(fields)}
		}
	}

	return &media.APIError{Code: media.CodeOther, Details: string(trimmed)}
}

func describe(fields map[string]json.RawMessage) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+text(fields[k]))
	}

	return strings.Join(parts, "; ")
}

func text(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}

	return string(v)
}

// MediaRequest is the body of the stream-location endpoint.
type MediaRequest struct {
	LicenseToken string       `json:"license_token"`
	Media        []MediaEntry `json:"media"`
	TrackTokens  []string     `json:"track_tokens"`
}

type MediaEntry struct {
	Type    string         `json:"type"`
	Formats []media.Format `json:"formats"`
}

type MediaResponse struct {
	Data []MediaData `json:"data"`
}

type MediaData struct {
	Media  []MediaSource `json:"media"`
	Errors []MediaError  `json:"errors"`
}

type MediaSource struct {
	MediaType string `json:"media_type"`
	Cipher    struct {
		Type string `json:"type"`
	} `json:"cipher"`
	Format  string `json:"format"`
	Sources []struct {
		URL      string `json:"url"`
		Provider string `json:"provider"`
	} `json:"sources"`
}

type MediaError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StreamLocations exchanges stream tokens for fetch URLs.
func (c *Client) StreamLocations(ctx context.Context, req MediaRequest) (*MediaResponse, error) {
	var resp MediaResponse
	if err := c.postJSON(ctx, "stream_location", c.mediaURL, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// PublicError is the error envelope of the public API. It is delivered with a
// 200 status.
type PublicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Public performs an unauthenticated GET against the public API and decodes the
// body into out.
func (c *Client) Public(ctx context.Context, path string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.publicURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req, "public_api")
	if err != nil {
		return err
	}

	var envelope struct {
		Error *PublicError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &media.TransportError{Operation: "public_api", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if envelope.Error != nil {
		return &media.APIError{
			Code:    media.CodeOther,
			Details: fmt.Sprintf("%s (%d): %s", envelope.Error.Type, envelope.Error.Code, envelope.Error.Message),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &media.TransportError{Operation: "public_api", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

// Open starts a streamed GET of an arbitrary URL. It returns the body and the
// announced length, or -1 when unknown. The caller closes the body.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &media.TransportError{Operation: "fetch", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()

		return nil, 0, &media.TransportError{Operation: "fetch", StatusCode: resp.StatusCode}
	}

	return resp.Body, resp.ContentLength, nil
}

func (c *Client) postJSON(ctx context.Context, operation, url string, in, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, operation)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &media.TransportError{Operation: operation, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	logger := logctx.LoggerFromContext(req.Context())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &media.TransportError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.DebugContext(req.Context(), "non-2xx response", "operation", operation, "status", resp.StatusCode, "body", string(b))

		return nil, &media.TransportError{Operation: operation, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &media.TransportError{Operation: operation, Err: err}
	}

	return body, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	return nil
}
