package backend

import (
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/util"
)

const redacted = "[redacted]"

// LoggingTransportOption configures the logging HTTP transport.
type LoggingTransportOption func(*loggingTransport)

type loggingTransport struct {
	transport  http.RoundTripper
	logHeaders bool
}

// NewLoggingTransport logs each backend exchange at debug level and
// failures at error level.
func NewLoggingTransport(transport http.RoundTripper, opts ...LoggingTransportOption) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	t := &loggingTransport{transport: transport}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithTransportLogHeaders enables header logging. Authorization and cookies are never printed.
func WithTransportLogHeaders(enabled bool) LoggingTransportOption {
	return func(t *loggingTransport) {
		t.logHeaders = enabled
	}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	logger := util.Log(req.Context()).WithFields(map[string]any{
		"method": req.Method,
		"url":    req.URL.Redacted(),
	})
	if t.logHeaders {
		logger = logger.WithField("headers", flattenHeaders(req.Header))
	}

	resp, err := t.transport.RoundTrip(req)

	logger = logger.WithField("duration", time.Since(start).String())
	if err != nil {
		logger.WithError(err).Error("backend request failed")
		return resp, err
	}

	logger.WithField("status", resp.StatusCode).Debug("backend response received")
	return resp, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "Cookie", "Set-Cookie":
			out[name] = redacted
		default:
			out[name] = strings.Join(values, ", ")
		}
	}
	return out
}
