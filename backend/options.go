package backend

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultHTTPTimeout     = 30 * time.Second
	defaultHTTPIdleTimeout = 90 * time.Second

	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 100 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
)

// RetryPolicy bounds how often and how fast a transient failure is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff is the delay after the given failed attempt, doubling each time.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if delay <= 0 || delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func defaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: defaultRetryAttempts,
		BaseDelay:   defaultRetryBaseDelay,
		MaxDelay:    defaultRetryMaxDelay,
	}
}

// HTTPOption configures the backend http client.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	timeout     time.Duration
	transport   http.RoundTripper
	idleTimeout time.Duration
	retryPolicy *RetryPolicy

	traceRequests       bool
	traceRequestHeaders bool
}

// WithHTTPTimeout sets the request timeout.
func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(c *httpConfig) {
		c.timeout = timeout
	}
}

// WithHTTPTransport sets the HTTP transport.
func WithHTTPTransport(transport http.RoundTripper) HTTPOption {
	return func(c *httpConfig) {
		c.transport = transport
	}
}

// WithHTTPIdleTimeout sets the idle timeout.
func WithHTTPIdleTimeout(timeout time.Duration) HTTPOption {
	return func(c *httpConfig) {
		c.idleTimeout = timeout
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(policy *RetryPolicy) HTTPOption {
	return func(c *httpConfig) {
		c.retryPolicy = policy
	}
}

// WithHTTPTraceRequests logs every backend request and response.
func WithHTTPTraceRequests() HTTPOption {
	return func(c *httpConfig) {
		c.traceRequests = true
	}
}

// WithHTTPTraceRequestHeaders also logs headers, with credentials redacted.
func WithHTTPTraceRequestHeaders() HTTPOption {
	return func(c *httpConfig) {
		c.traceRequestHeaders = true
	}
}

func newHTTPConfig(opts ...HTTPOption) *httpConfig {
	cfg := &httpConfig{
		timeout:     defaultHTTPTimeout,
		idleTimeout: defaultHTTPIdleTimeout,
		retryPolicy: defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewHTTPClient creates the client used to reach the backend. Requests are
// traced with otelhttp and optionally logged.
func NewHTTPClient(opts ...HTTPOption) *http.Client {
	cfg := newHTTPConfig(opts...)

	base := cfg.transport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.idleTimeout > 0 {
			t.IdleConnTimeout = cfg.idleTimeout
		}
		base = t
	}

	transport := otelhttp.NewTransport(base)
	if cfg.traceRequests {
		transport = NewLoggingTransport(transport,
			WithTransportLogHeaders(cfg.traceRequestHeaders))
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.timeout,
	}
}
