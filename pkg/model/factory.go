package model

import (
	"strings"

	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
	"github.com/odvcencio/browserbridge/pkg/logging"
)

// Factory binds per-request credentials to a fixed model endpoint. Every
// client it returns shares one rate limiter, circuit breaker and HTTP client,
// so endpoint health and request pacing are tracked across runs rather than
// per run.
type Factory struct {
	baseURL string
	opts    ClientOptions
}

// NewFactory returns a factory producing clients for baseURL with opts.
func NewFactory(baseURL string, opts ClientOptions) *Factory {
	if opts.RateLimiter == nil {
		opts.RateLimiter = newRateLimiter(opts)
	}
	if opts.CircuitBreaker == nil {
		log := logging.For(opts.Logger, logging.CategoryModel).WithField("endpoint", baseURL)
		opts.CircuitBreaker = newCircuitBreaker(opts, log)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(opts)
	}
	return &Factory{baseURL: baseURL, opts: opts}
}

// NewClient returns a client authenticated with credential.
func (f *Factory) NewClient(credential string) (*Client, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, bberrors.New(bberrors.ErrCodeInvalidInput, "credential is required")
	}
	return NewClientWithOptions(credential, f.baseURL, f.opts), nil
}

// CircuitBreakerState reports the shared breaker's state.
func (f *Factory) CircuitBreakerState() string {
	return f.opts.CircuitBreaker.State()
}
