package bungie

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

	"github.com/sirupsen/logrus"

	"github.com/uayebforever/clan-stats/internal/core"
)

// Request describes one platform call. Endpoint is relative to the base URL,
// e.g. "Destiny2/3/Profile/4611686018467284386/".
type Request struct {
	Method   string
	Endpoint string
	Params   map[string]string
	Body     any
}

// Transport is the interface for making platform requests. It returns the
// Response member of a successful envelope.
type Transport interface {
	Do(ctx context.Context, req Request) (json.RawMessage, error)
}

// Client is the HTTP wrapper around the platform REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	log        *logrus.Entry
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another server.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryDelay sets the first back-off delay; later attempts double it.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// NewClient creates a new API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: core.APIBaseURL,
		httpClient: &http.Client{
			Timeout: core.RequestTimeout,
		},
		maxRetries: core.MaxRetries,
		retryDelay: time.Second,
		log:        logrus.WithField("component", "bungie"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs the request and unwraps the response envelope.
// Retries automatically on HTTP 5xx or 429 responses with exponential back-off.
func (c *Client) Do(ctx context.Context, r Request) (json.RawMessage, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	urlStr := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(r.Endpoint, "/"))
	if len(r.Params) > 0 {
		q := url.Values{}
		for k, v := range r.Params {
			q.Set(k, v)
		}
		urlStr = fmt.Sprintf("%s?%s", urlStr, q.Encode())
	}

	var payload []byte
	if r.Body != nil {
		var err error
		if payload, err = json.Marshal(r.Body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	log := c.log.WithFields(logrus.Fields{"method": method, "url": urlStr})
	log.Debug("request")

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.roundTrip(ctx, method, urlStr, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < c.maxRetries {
				wait := c.backoff(attempt)
				log.WithError(err).Warnf("attempt %d failed (connection error); retrying in %v", attempt, wait)
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		result, apiErr := decodeEnvelope(resp.status, resp.body)
		if apiErr == nil {
			log.WithField("bytes", len(resp.body)).Debugf("response: HTTP %d", resp.status)
			return result, nil
		}

		if !apiErr.Retryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		if attempt < c.maxRetries {
			wait := c.backoff(attempt)
			if resp.status == http.StatusTooManyRequests {
				if secs, err := strconv.Atoi(resp.retryAfter); err == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			log.Warnf("attempt %d failed (HTTP %d); retrying in %v", attempt, resp.status, wait)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

type rawResponse struct {
	status     int
	retryAfter string
	body       []byte
}

func (c *Client) roundTrip(ctx context.Context, method, urlStr string, payload []byte) (*rawResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(core.APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &rawResponse{status: resp.StatusCode, retryAfter: resp.Header.Get("Retry-After"), body: data}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.retryDelay * time.Duration(1<<(attempt-1))
}

// decodeEnvelope turns an HTTP answer into the envelope's Response, or an
// *APIError carrying whatever the platform told us about the failure.
func decodeEnvelope(status int, body []byte) (json.RawMessage, *APIError) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		msg := strings.TrimSpace(string(body))
		if status < 400 {
			msg = fmt.Sprintf("failed to parse JSON response: %v", err)
		}
		return nil, &APIError{StatusCode: status, Message: msg}
	}
	if status >= 400 || (env.ErrorCode != CodeSuccess && env.ErrorCode != CodeNone) {
		return nil, &APIError{
			StatusCode:  status,
			ErrorCode:   env.ErrorCode,
			ErrorStatus: env.ErrorStatus,
			Message:     env.Message,
		}
	}
	return env.Response, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
