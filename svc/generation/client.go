package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ImageClient produces one image for a prompt. Errors are treated as "no
// image produced" and lead to a refund, so an implementation must not return
// an error after the provider has delivered an image.
type ImageClient interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}

// HTTPClient calls a hosted inference API over JSON with retries and a
// circuit breaker.
type HTTPClient struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries int
	backoff    Backoff
	breaker    *CircuitBreaker
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient overrides the transport, e.g. in tests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithBackoff replaces DefaultBackoff. A nil backoff is ignored.
func WithBackoff(b Backoff) ClientOption {
	return func(h *HTTPClient) {
		if b != nil {
			h.backoff = b
		}
	}
}

// WithCircuitBreaker replaces the default breaker. Share one breaker
// between clients that call the same endpoint. Passing nil disables it.
func WithCircuitBreaker(cb *CircuitBreaker) ClientOption {
	return func(h *HTTPClient) { h.breaker = cb }
}

// NewHTTPClient validates cfg.APIURL and builds a client with pooled
// connections.
func NewHTTPClient(cfg Config, opts ...ClientOption) (*HTTPClient, error) {
	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: api url must be an absolute http(s) url", ErrInvalidConfig)
	}

	h := &HTTPClient{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		endpoint:   cfg.APIURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cmpOr(cfg.Timeout, 12*time.Second),
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    DefaultBackoff(),
		breaker:    NewCircuitBreaker(5, 2, 30*time.Second),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// apiRequest is the inference API request body.
type apiRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// apiResponse is the part of the inference API answer that is used.
type apiResponse struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Seed int64  `json:"seed"`
}

// Generate retries temporary failures with backoff. 4xx answers other than
// 408, 425 and 429 are permanent and returned at once.
func (h *HTTPClient) Generate(ctx context.Context, req Request) (*Image, error) {
	body, err := json.Marshal(apiRequest{Model: h.model, Prompt: req.Prompt, Width: req.Width, Height: req.Height})
	if err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}

	// The breaker is checked once per call, not per attempt: retries of a
	// call that was let through must not be cut short halfway.
	if h.breaker != nil && !h.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(h.backoff.NextInterval(attempt)):
			}
		}

		img, status, err := h.attempt(ctx, body)
		if h.breaker != nil {
			if err == nil {
				h.breaker.RecordSuccess()
			} else {
				h.breaker.RecordFailure()
			}
		}
		if err == nil {
			return img, nil
		}
		lastErr = err
		if isPermanent(status) {
			return nil, fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}
	return nil, fmt.Errorf("generation: %d attempts failed: %w", h.maxRetries+1, lastErr)
}

// attempt makes one request with its own timeout. It returns the HTTP status
// alongside the error so the caller can tell permanent failures apart;
// transport errors report status 0.
func (h *HTTPClient) attempt(ctx context.Context, body []byte) (*Image, int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "pixelcredits/1.0")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, 0, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 64KB is far above any valid answer.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.ReplaceAll(string(raw), "\n", " ")
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return nil, resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrTemporaryFailure, resp.StatusCode, msg)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: decode response: %w", ErrTemporaryFailure, err)
	}
	if out.URL == "" {
		return nil, resp.StatusCode, fmt.Errorf("%w: response has no image url", ErrTemporaryFailure)
	}
	return &Image{ID: out.ID, URL: out.URL, Seed: out.Seed, Model: h.model}, resp.StatusCode, nil
}

// isPermanent reports whether retrying status cannot help. Only client
// errors are permanent, except those that mean "try again later".
func isPermanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}
