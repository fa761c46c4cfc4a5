package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/services/retry"
)

// Result classifies the terminal state of one Do call.
type Result int

const (
	// ResultOK is any 2xx (or other non-error) final status.
	ResultOK Result = iota
	// ResultClientError is a 4xx, terminal on the first occurrence.
	ResultClientError
	// ResultRetriesExhausted means every attempt got a retriable HTTP
	// failure; the last 5xx response is preserved.
	ResultRetriesExhausted
	// ResultDeadline means the remaining time budget could not fit
	// another attempt.
	ResultDeadline
	// ResultInvalidURI means the URL did not parse; nothing was sent.
	ResultInvalidURI
	// ResultConnectFailure means no attempt ever produced an HTTP
	// response.
	ResultConnectFailure
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultClientError:
		return "client_error"
	case ResultRetriesExhausted:
		return "retries_exhausted"
	case ResultDeadline:
		return "deadline"
	case ResultInvalidURI:
		return "invalid_uri"
	case ResultConnectFailure:
		return "connect_failure"
	default:
		return "unknown"
	}
}

// Request is one outbound HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is the received side of a finished attempt.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Outcome pairs the classification with whatever response or error the
// final attempt produced.
type Outcome struct {
	Result   Result
	Response *Response
	Err      error
}

func (o *Outcome) OK() bool {
	return o.Result == ResultOK
}

// Config tunes the client.
type Config struct {
	// MaxRetries counts retries after the first attempt.
	MaxRetries int
	// InitialBackoff and BackoffCap shape the exponential retry delay.
	InitialBackoff time.Duration
	BackoffCap     time.Duration
	// RequestTimeout applies when the caller's context carries no
	// deadline.
	RequestTimeout time.Duration
	// MinRequestSlot is the smallest remaining budget worth another
	// attempt.
	MinRequestSlot time.Duration
	// ConnectTimeout bounds dialing one connection.
	ConnectTimeout time.Duration
	// MaxConnsPerHost bounds the shared per-host connection pool.
	MaxConnsPerHost int
}

func (c *Config) withDefaults() Config {
	out := Config{
		MaxRetries:      3,
		InitialBackoff:  100 * time.Millisecond,
		BackoffCap:      5 * time.Second,
		RequestTimeout:  30 * time.Second,
		MinRequestSlot:  500 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		MaxConnsPerHost: 64,
	}
	if c == nil {
		return out
	}
	// An explicit config owns the retry count; zero means no retries.
	out.MaxRetries = c.MaxRetries
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if c.InitialBackoff > 0 {
		out.InitialBackoff = c.InitialBackoff
	}
	if c.BackoffCap > 0 {
		out.BackoffCap = c.BackoffCap
	}
	if c.RequestTimeout > 0 {
		out.RequestTimeout = c.RequestTimeout
	}
	if c.MinRequestSlot > 0 {
		out.MinRequestSlot = c.MinRequestSlot
	}
	if c.ConnectTimeout > 0 {
		out.ConnectTimeout = c.ConnectTimeout
	}
	if c.MaxConnsPerHost > 0 {
		out.MaxConnsPerHost = c.MaxConnsPerHost
	}
	return out
}

// Client is a blocking HTTP client with bounded retries and deadline
// awareness. Concurrent calls share the connection pool.
type Client struct {
	hc      *http.Client
	cfg     Config
	backoff *retry.Config
	logger  *zap.Logger
}

func New(cfg *Config, logger *zap.Logger) *Client {
	c := cfg.withDefaults()
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   c.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:     c.MaxConnsPerHost,
		MaxIdleConnsPerHost: c.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		hc:  &http.Client{Transport: transport},
		cfg: c,
		backoff: &retry.Config{
			InitialDelay: c.InitialBackoff,
			MaxDelay:     c.BackoffCap,
			Multiplier:   2.0,
		},
		logger: logger,
	}
}

// Do performs the request. 4xx is terminal with body and headers kept;
// 5xx and transport errors retry with exponential backoff; the loop
// stops early when the remaining deadline cannot fit another attempt.
func (c *Client) Do(ctx context.Context, req *Request) *Outcome {
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &Outcome{Result: ResultInvalidURI, Err: fmt.Errorf("invalid url %q", req.URL)}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	var lastResp *Response
	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if time.Until(deadline) < c.cfg.MinRequestSlot {
			return &Outcome{Result: ResultDeadline, Response: lastResp, Err: context.DeadlineExceeded}
		}

		resp, err := c.attempt(ctx, req)
		if err != nil {
			lastErr = err
			c.logger.Debug("outbound request attempt failed",
				zap.String("url", req.URL),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			switch {
			case resp.StatusCode < 400:
				return &Outcome{Result: ResultOK, Response: resp}
			case resp.StatusCode < 500:
				return &Outcome{Result: ResultClientError, Response: resp}
			default:
				lastResp = resp
				lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
				c.logger.Debug("outbound request got retriable status",
					zap.String("url", req.URL),
					zap.Int("attempt", attempt),
					zap.Int("status", resp.StatusCode))
			}
		}

		if attempt == attempts-1 {
			break
		}
		if err := sleep(ctx, retry.CalculateBackoff(attempt+1, c.backoff)); err != nil {
			return &Outcome{Result: ResultDeadline, Response: lastResp, Err: err}
		}
	}

	if lastResp != nil {
		return &Outcome{Result: ResultRetriesExhausted, Response: lastResp, Err: lastErr}
	}
	return &Outcome{Result: ResultConnectFailure, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       data,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
