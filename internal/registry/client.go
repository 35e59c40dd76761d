package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Retry, backoff and timeout defaults.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 2
	baseBackoff       = 250 * time.Millisecond
	maxBackoff        = 5 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	maxErrorBody      = 4096
	userAgent         = "tower/0.1"
)

// ClientConfig holds the options for NewClient.
type ClientConfig struct {
	BaseURL    string        // e.g. "http://192.168.1.50:8000"
	HTTPClient *http.Client  // nil uses a client without an overall timeout
	Timeout    time.Duration // per attempt; zero uses DefaultTimeout
	MaxRetries int           // transport retries per call; negative means none
	Logger     *slog.Logger

	// RequestsPerSecond caps the request rate shared by all goroutines
	// using this client. Zero means unlimited.
	RequestsPerSecond int
}

// Client is an HTTP client for the metadata registry. It handles request
// construction, per-attempt timeouts, retry with exponential backoff, and
// error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter // nil = unlimited
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a registry client.
func NewClient(cfg *ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		maxRetries: max(cfg.MaxRetries, 0),
		limiter:    limiter,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the registry location this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// response is a fully read HTTP response. Bodies are small JSON documents,
// so reading them inside the per-attempt timeout keeps the deadline honest.
type response struct {
	status int
	body   []byte
}

// do executes a request, retrying transport failures and retryable statuses
// up to maxRetries times. Any non-2xx that is not retried is returned as a
// response for the caller to classify; only transport failures are errors.
func (c *Client) do(ctx context.Context, method, path string, payload any, retries int) (*response, error) {
	var body []byte

	if payload != nil {
		var err error

		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("registry: encoding request: %w", err)
		}
	}

	var attempt int
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &ConnectionError{Op: method + " " + path, Err: err}
			}
		}

		resp, err := c.doOnce(ctx, method, path, body)
		if err != nil {
			// Caller cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, &ConnectionError{Op: method + " " + path, Err: ctx.Err()}
			}

			if attempt < retries {
				backoff := c.calcBackoff(attempt)
				c.logger.Debug("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, &ConnectionError{Op: method + " " + path, Err: sleepErr}
				}

				attempt++

				continue
			}

			return nil, &ConnectionError{Op: method + " " + path, Err: err}
		}

		if isRetryable(resp.status) && attempt < retries {
			backoff := c.calcBackoff(attempt)
			c.logger.Debug("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.status),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, &ConnectionError{Op: method + " " + path, Err: err}
			}

			attempt++

			continue
		}

		c.logger.Debug("request finished",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.status),
		)

		return resp, nil
	}
}

// doOnce executes a single HTTP request bounded by the per-attempt timeout.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &response{status: resp.StatusCode, body: data}, nil
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// ok reports whether the response is 2xx.
func (r *response) ok() bool {
	return r.status >= http.StatusOK && r.status < http.StatusMultipleChoices
}

// decode unmarshals a 2xx body into v.
func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("registry: decoding response: %w", err)
	}

	return nil
}

// detail extracts the registry's error message, falling back to the raw body.
func (r *response) detail() string {
	var eb errorBody
	if err := json.Unmarshal(r.body, &eb); err == nil && eb.Detail != "" {
		return eb.Detail
	}

	raw := r.body
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}

	if len(raw) == 0 {
		return http.StatusText(r.status)
	}

	return strings.TrimSpace(string(raw))
}

// statusError builds the typed error for a non-2xx response.
func (r *response) statusError() error {
	return &StatusError{StatusCode: r.status, Detail: r.detail(), Err: classifyStatus(r.status)}
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether err is worth retrying on a later cycle as
// opposed to a request the registry will keep rejecting.
func IsTransient(err error) bool {
	if errors.Is(err, ErrConnection) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}

	var re *RegistrationError
	if errors.As(err, &re) {
		return re.StatusCode >= http.StatusInternalServerError
	}

	return false
}
