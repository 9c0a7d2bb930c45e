package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
	"github.com/odvcencio/browserbridge/pkg/logging"
	"github.com/odvcencio/browserbridge/pkg/telemetry"
)

const (
	defaultTimeout   = 2 * time.Minute
	defaultRateLimit = rate.Limit(2)
	defaultBurstSize = 4
	maxErrorBody     = 500
)

// RetryConfig configures retries of failed chat completions.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// ClientOptions tunes NewClientWithOptions. Zero values select defaults.
type ClientOptions struct {
	ModelID           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// CircuitBreakerConfig is optional; if nil, default config is used
	CircuitBreakerConfig *CircuitBreakerConfig
	// RetryConfig is optional; if nil, default config is used
	RetryConfig *RetryConfig
	HTTPClient  *http.Client
	// RateLimiter and CircuitBreaker, when set, are shared with other
	// clients of the same endpoint instead of being built per client.
	RateLimiter    *rate.Limiter
	CircuitBreaker *CircuitBreaker
	Metrics        *telemetry.Metrics
	Logger      logrus.FieldLogger
}

// Client talks to an OpenAI-compatible chat completions endpoint on behalf
// of a single credential.
type Client struct {
	apiKey         string
	baseURL        string
	modelID        string
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *CircuitBreaker
	retryConfig    RetryConfig
	metrics        *telemetry.Metrics
	log            logrus.FieldLogger
}

// NewClient creates a client with default options.
func NewClient(apiKey string, baseURL string) *Client {
	return NewClientWithOptions(apiKey, baseURL, ClientOptions{})
}

// NewClientWithOptions creates a client for baseURL authenticated with apiKey.
func NewClientWithOptions(apiKey string, baseURL string, opts ClientOptions) *Client {
	log := opts.Logger
	if log == nil {
		log = logging.NullLogger()
	}
	log = logging.For(log, logging.CategoryModel)

	retryConfig := DefaultRetryConfig()
	if opts.RetryConfig != nil {
		retryConfig = *opts.RetryConfig
	}
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = newRateLimiter(opts)
	}
	breaker := opts.CircuitBreaker
	if breaker == nil {
		breaker = newCircuitBreaker(opts, log)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(opts)
	}

	return &Client{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		modelID:        opts.ModelID,
		httpClient:     httpClient,
		rateLimiter:    limiter,
		circuitBreaker: breaker,
		retryConfig:    retryConfig,
		metrics:        opts.Metrics,
		log:            log,
	}
}

func newRateLimiter(opts ClientOptions) *rate.Limiter {
	limit := defaultRateLimit
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := defaultBurstSize
	if opts.Burst > 0 {
		burst = opts.Burst
	}
	return rate.NewLimiter(limit, burst)
}

func newCircuitBreaker(opts ClientOptions, log logrus.FieldLogger) *CircuitBreaker {
	cbConfig := DefaultCircuitBreakerConfig()
	if opts.CircuitBreakerConfig != nil {
		cbConfig = *opts.CircuitBreakerConfig
	}
	return NewCircuitBreaker(cbConfig, log)
}

func newHTTPClient(opts ClientOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// ModelID returns the model requests default to.
func (c *Client) ModelID() string {
	return c.modelID
}

// CircuitBreakerState returns the current state of the circuit breaker
func (c *Client) CircuitBreakerState() string {
	if c.circuitBreaker != nil {
		return c.circuitBreaker.State()
	}
	return "disabled"
}

// ChatCompletion performs a non-streaming chat completion with automatic
// retries. Authentication failures are never retried and surface with the
// user message "credential rejected".
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	if req.Model == "" {
		req.Model = c.modelID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var result *ChatResponse
	err = c.circuitBreaker.Call(func() error {
		var lastErr error
		for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := c.calculateRetryDelay(attempt-1, lastErr)
				c.log.WithFields(logrus.Fields{
					"attempt": attempt,
					"delay":   delay,
				}).WithError(lastErr).Debug("retrying chat completion")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

			resp, err := c.doOnce(ctx, body)
			if err == nil {
				result = resp
				return nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !isRetryableError(err) {
				return err
			}
		}
		return fmt.Errorf("max retries (%d) exceeded: %w", c.retryConfig.MaxRetries, lastErr)
	}, isCallerError)

	if err != nil {
		c.metrics.ModelRequest(telemetry.OutcomeError)
		return nil, classify(err)
	}
	c.metrics.ModelRequest(telemetry.OutcomeSuccess)
	return result, nil
}

func (c *Client) doOnce(ctx context.Context, body []byte) (*ChatResponse, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "response contained no choices"}
	}
	return &chatResp, nil
}

// calculateRetryDelay honors Retry-After and otherwise backs off
// exponentially with jitter.
func (c *Client) calculateRetryDelay(attempt int, lastErr error) time.Duration {
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
		if apiErr.RetryAfter > c.retryConfig.MaxInterval {
			return c.retryConfig.MaxInterval
		}
		return apiErr.RetryAfter
	}

	delay := float64(c.retryConfig.InitialInterval)
	for i := 0; i < attempt; i++ {
		delay *= c.retryConfig.Multiplier
	}
	if delay > float64(c.retryConfig.MaxInterval) {
		delay = float64(c.retryConfig.MaxInterval)
	}

	jitter := rand.Float64() * delay * 0.5
	return time.Duration(delay*0.75 + jitter)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// parseError turns a non-200 response into an *APIError.
func (c *Client) parseError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
		Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(body) == 0 {
		return apiErr
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		raw := strings.TrimSpace(string(body))
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody] + "..."
		}
		apiErr.Message = fmt.Sprintf("%s (raw: %s)", resp.Status, raw)
		return apiErr
	}

	apiErr.Message = errResp.Error.Message
	apiErr.Type = errResp.Error.Type
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	// Transport errors are generally retryable
	return true
}

// isCallerError marks failures caused by the caller rather than the
// endpoint; they do not count against the circuit breaker.
func isCallerError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuthError()
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuthError():
			return bberrors.Wrap(err, bberrors.ErrCodeModelAuth, "model endpoint refused credential").
				WithUserMessage(ErrCredentialRejected.Error())
		case apiErr.IsRateLimitError():
			return bberrors.Wrap(err, bberrors.ErrCodeModelRateLimit, "model endpoint rate limited").
				WithRetryable(true)
		}
	}
	return bberrors.Wrap(err, bberrors.ErrCodeModelAPIError, "chat completion failed")
}
