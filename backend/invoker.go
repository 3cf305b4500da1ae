package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultMaxResponseBodyLen        = 10 << 20
	defaultCircuitBreakerMaxRequests = 3
	defaultCircuitBreakerInterval    = 30 * time.Second
	defaultCircuitBreakerTimeout     = 45 * time.Second
	defaultCircuitBreakerThreshold   = 20
	defaultCircuitBreakerFailureRate = 0.5
)

var ErrResponseTooLarge = errors.New("response body exceeds configured limit")

// serverError wraps a 5xx response so the circuit breaker records it as a
// failure while callers still get the response.
type serverError struct {
	statusCode int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error: HTTP %d", e.statusCode)
}

// Response is a backend answer whose body the caller must consume or close.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser

	maxBodyLen int64
}

func (r *Response) Close() error {
	if r.Body != nil {
		return r.Body.Close()
	}
	return nil
}

// ToContent reads the whole body, up to the configured limit.
func (r *Response) ToContent(ctx context.Context) ([]byte, error) {
	defer util.CloseAndLogOnError(ctx, r)

	reader := io.Reader(r.Body)
	if r.maxBodyLen > 0 {
		reader = io.LimitReader(r.Body, r.maxBodyLen+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if r.maxBodyLen > 0 && int64(len(data)) > r.maxBodyLen {
		return data[:r.maxBodyLen], ErrResponseTooLarge
	}
	return data, nil
}

// Decode streams a JSON body into v and closes it.
func (r *Response) Decode(ctx context.Context, v any) error {
	defer util.CloseAndLogOnError(ctx, r)

	reader := io.Reader(r.Body)
	if r.maxBodyLen > 0 {
		reader = io.LimitReader(r.Body, r.maxBodyLen)
	}
	return json.NewDecoder(reader).Decode(v)
}

// Invoker sends JSON requests through a per-host circuit breaker with retries.
type Invoker struct {
	breakers    sync.Map // map[string]*gobreaker.CircuitBreaker[*http.Response]
	client      *http.Client
	maxBodyLen  int64
	retryPolicy *RetryPolicy
}

func NewInvoker(opts ...HTTPOption) *Invoker {
	cfg := newHTTPConfig(opts...)
	return &Invoker{
		client:      NewHTTPClient(opts...),
		maxBodyLen:  defaultMaxResponseBodyLen,
		retryPolicy: cfg.retryPolicy,
	}
}

func (i *Invoker) breakerFor(key string) *gobreaker.CircuitBreaker[*http.Response] {
	if cb, ok := i.breakers.Load(key); ok {
		//nolint:errcheck // only *gobreaker.CircuitBreaker[*http.Response] is stored
		return cb.(*gobreaker.CircuitBreaker[*http.Response])
	}

	st := gobreaker.Settings{
		Name:        "backend:" + key,
		MaxRequests: defaultCircuitBreakerMaxRequests,
		Interval:    defaultCircuitBreakerInterval,
		Timeout:     defaultCircuitBreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < defaultCircuitBreakerThreshold {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= defaultCircuitBreakerFailureRate
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			util.Log(context.Background()).
				WithField("breaker", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("backend circuit breaker changed state")
		},
	}

	//nolint:bodyclose // the body is owned by the caller
	cb := gobreaker.NewCircuitBreaker[*http.Response](st)

	actual, _ := i.breakers.LoadOrStore(key, cb)
	//nolint:errcheck // only *gobreaker.CircuitBreaker[*http.Response] is stored
	return actual.(*gobreaker.CircuitBreaker[*http.Response])
}

func isRetryableStatus(code int) bool {
	return code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (i *Invoker) execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	cb := i.breakerFor(req.Method + " " + req.URL.Host)
	retry := i.retryPolicy
	if retry == nil || retry.MaxAttempts < 1 {
		retry = &RetryPolicy{MaxAttempts: 1}
	}

	resp, err := cb.Execute(func() (*http.Response, error) {
		var lastErr error

		for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
			if attempt > 1 && req.GetBody != nil {
				body, bErr := req.GetBody()
				if bErr != nil {
					return nil, lastErr
				}
				req.Body = body
			}

			resp, doErr := i.client.Do(req)
			switch {
			case doErr != nil:
				if resp != nil && resp.Body != nil {
					_ = resp.Body.Close()
				}
				lastErr = doErr
			case isRetryableStatus(resp.StatusCode) && attempt < retry.MaxAttempts:
				_ = resp.Body.Close()
				lastErr = &serverError{statusCode: resp.StatusCode}
			case resp.StatusCode >= http.StatusInternalServerError:
				return resp, &serverError{statusCode: resp.StatusCode}
			default:
				return resp, nil
			}

			if attempt == retry.MaxAttempts || (req.Body != nil && req.GetBody == nil) {
				break
			}

			t := time.NewTimer(retry.Backoff(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		return nil, lastErr
	})

	// a 5xx still reaches the caller so it can report the status
	var sErr *serverError
	if resp != nil && errors.As(err, &sErr) {
		return resp, nil
	}
	return resp, err
}

// Invoke sends payload as JSON, when not nil, and returns the raw response.
func (i *Invoker) Invoke(
	ctx context.Context,
	method string,
	endpointURL string,
	payload any,
	headers http.Header,
) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpointURL, body)
	if err != nil {
		return nil, err
	}

	req.Header = headers.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	//nolint:bodyclose // the body is owned by the caller
	resp, err := i.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
		maxBodyLen: i.maxBodyLen,
	}, nil
}
