package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/statchart/backend/internal/metrics"
	"github.com/statchart/backend/pkg/circuitbreaker"
	"github.com/statchart/backend/pkg/logger"
	"github.com/statchart/backend/pkg/retry"
)

const (
	DefaultRetries    = 2
	DefaultRetryDelay = time.Second
	DefaultTimeout    = 30 * time.Second

	DefaultMaxBodyBytes = 64 << 20
)

var ErrBodyTooLarge = errors.New("response body too large")

// Doer is the transport used by Client; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options control a single logical fetch.
type Options struct {
	// Retries is the number of extra attempts after the first one.
	Retries    int
	RetryDelay time.Duration
	// Timeout bounds each attempt separately.
	Timeout time.Duration
	Header  http.Header
	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
	// Breaker, when set, wraps the whole retried call.
	Breaker *circuitbreaker.CircuitBreaker
	// Source labels metrics and logs.
	Source string
}

func DefaultOptions() Options {
	return Options{
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
	}
}

type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

type Client struct {
	http      Doer
	userAgent string
	maxBody   int64
	logger    *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(d Doer) ClientOption {
	return func(c *Client) { c.http = d }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *Client) { c.maxBody = n }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:      &http.Client{},
		userAgent: "statchart/1.0",
		maxBody:   DefaultMaxBodyBytes,
		logger:    logger.Named("fetch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues a GET for rawURL, retrying transient failures. 2xx responses are
// returned with the body fully read; every failure is a *Error, except
// cancellation of ctx which is returned as ctx.Err().
func (c *Client) Do(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	if opts.Breaker == nil {
		return c.doWithRetry(ctx, rawURL, opts)
	}

	var resp *Response
	err := opts.Breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.doWithRetry(ctx, rawURL, opts)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		metrics.FetchAttempts.WithLabelValues(sourceLabel(opts), "circuit_open").Inc()
		return nil, &Error{URL: rawURL, IsCircuitOpen: true, Err: err}
	}
	return resp, err
}

func (c *Client) doWithRetry(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	attempts := 0
	resp, err := retry.DoWithResult(ctx, retry.Config{
		MaxAttempts: opts.Retries + 1,
		Retryable:   IsTransient,
		Backoff:     backoff(opts.RetryDelay),
		Logger:      c.logger.With(zap.String("source", sourceLabel(opts)), zap.String("url", rawURL)),
	}, func(attempt int) (*Response, error) {
		attempts = attempt + 1
		return c.attempt(ctx, rawURL, opts)
	})

	if err != nil {
		if fe, ok := AsError(err); ok {
			fe.Attempts = attempts
			return nil, fe
		}
		return nil, err
	}

	resp.Attempts = attempts
	return resp, nil
}

// backoff waits delay after server errors and timeouts, and delay*2^attempt
// after a 429.
func backoff(delay time.Duration) retry.BackoffFunc {
	return func(attempt int, err error) time.Duration {
		if fe, ok := AsError(err); ok && fe.StatusCode == http.StatusTooManyRequests {
			return delay * time.Duration(1<<attempt)
		}
		return delay
	}
}

func (c *Client) attempt(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &Error{URL: rawURL, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	for k, vs := range opts.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	source := sourceLabel(opts)
	start := time.Now()
	res, err := c.http.Do(req)
	metrics.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, rawURL, source, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody+1))
	if err != nil {
		return nil, c.bodyError(ctx, attemptCtx, rawURL, source, res, err)
	}
	if int64(len(body)) > c.maxBody {
		metrics.FetchAttempts.WithLabelValues(source, "too_large").Inc()
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.maxBody)}
	}

	code := res.StatusCode
	if code >= 200 && code < 300 {
		metrics.FetchAttempts.WithLabelValues(source, "ok").Inc()
		return &Response{URL: rawURL, StatusCode: code, Header: res.Header, Body: body}, nil
	}

	fe := &Error{URL: rawURL, StatusCode: code, StatusText: statusText(res)}
	switch {
	case code == http.StatusTooManyRequests:
		fe.IsRateLimited = true
		metrics.FetchAttempts.WithLabelValues(source, "rate_limited").Inc()
	case code >= 500:
		metrics.FetchAttempts.WithLabelValues(source, "server_error").Inc()
	default:
		metrics.FetchAttempts.WithLabelValues(source, "client_error").Inc()
	}

	c.logger.Debug("Upstream returned error status",
		zap.String("source", source),
		zap.String("url", rawURL),
		zap.Int("status", code),
	)
	return nil, fe
}

func (c *Client) transportError(parent, attemptCtx context.Context, rawURL, source string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var netErr net.Error
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		metrics.FetchAttempts.WithLabelValues(source, "timeout").Inc()
		return &Error{URL: rawURL, StatusText: "timeout", IsTimeout: true, Err: err}
	}

	metrics.FetchAttempts.WithLabelValues(source, "network").Inc()
	c.logger.Warn("Upstream request failed without a response",
		zap.String("source", source),
		zap.String("url", rawURL),
		zap.Error(err),
	)
	return &Error{URL: rawURL, IsCORSError: true, Err: err}
}

// bodyError classifies a failure while reading a body after the status line
// arrived. The connection dropped mid-transfer, so the attempt is retried.
func (c *Client) bodyError(parent, attemptCtx context.Context, rawURL, source string, res *http.Response, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		metrics.FetchAttempts.WithLabelValues(source, "timeout").Inc()
		return &Error{URL: rawURL, StatusText: "timeout", IsTimeout: true, Err: err}
	}

	metrics.FetchAttempts.WithLabelValues(source, "truncated").Inc()
	c.logger.Warn("Upstream response body truncated",
		zap.String("source", source),
		zap.String("url", rawURL),
		zap.Int("status", res.StatusCode),
		zap.Error(err),
	)
	return &Error{URL: rawURL, StatusCode: res.StatusCode, StatusText: statusText(res), IsTruncated: true, Err: err}
}

func statusText(res *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return text
}

func sourceLabel(opts Options) string {
	if opts.Source == "" {
		return "unknown"
	}
	return opts.Source
}

// FetchJSON fetches rawURL and decodes the body into T.
func FetchJSON[T any](ctx context.Context, c *Client, rawURL string, opts Options) (T, error) {
	var out T
	resp, err := c.Do(ctx, rawURL, opts)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return out, nil
}

// FetchText fetches rawURL and returns the body as text.
func (c *Client) FetchText(ctx context.Context, rawURL string, opts Options) (string, error) {
	if opts.Header == nil || opts.Header.Get("Accept") == "" {
		h := opts.Header.Clone()
		if h == nil {
			h = http.Header{}
		}
		h.Set("Accept", "text/plain, text/csv, */*")
		opts.Header = h
	}
	resp, err := c.Do(ctx, rawURL, opts)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}
