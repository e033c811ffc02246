package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultAttempts = 10
	defaultDelay    = 500 * time.Millisecond
	maxDelay        = 30 * time.Second
	defaultTimeout  = 60 * time.Second
	productName     = "wsx"
	productVersion  = "0.1.0"
)

// TransportOpts configures a [Transport].
type TransportOpts struct {
	Client            *http.Client
	RequestsPerSecond float64 // 0 disables throttling
	Attempts          uint    // total tries for idempotent requests
	Delay             time.Duration
	ClientID          string
	Logger            *log.Logger
}

// Transport executes Plex-style HTTP requests: it sets the X-Plex headers, throttles,
// retries idempotent requests on 429/5xx, and maps status codes onto the shared errors.
//
// A Transport is safe for concurrent use.
type Transport struct {
	client   *http.Client
	limiter  *rate.Limiter
	attempts uint
	delay    time.Duration
	clientID string
	logger   *log.Logger
}

// NewTransport creates a Transport, defaulting every zero option.
func NewTransport(opts TransportOpts) *Transport {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: defaultTimeout}
	}
	if opts.Attempts == 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Delay == 0 {
		opts.Delay = defaultDelay
	}
	if opts.ClientID == "" {
		opts.ClientID = shared.GenerateID()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Transport{
		client:   opts.Client,
		limiter:  limiter,
		attempts: opts.Attempts,
		delay:    opts.Delay,
		clientID: opts.ClientID,
		logger:   opts.Logger,
	}
}

// Request is a single call made through a [Transport].
type Request struct {
	Method     string
	URL        string
	Token      string
	Body       []byte // sent as application/json when non-nil
	Idempotent bool   // retried on 429/5xx
}

// Response is a completed call with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// statusError carries a non-2xx response through the retry loop.
type statusError struct {
	code       int
	status     string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.status)
}

func (e *statusError) retryable() bool {
	switch e.code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes req and returns the response, or an error wrapping one of
// [shared.ErrUnauthorized], [shared.ErrNotFound], [shared.ErrTransient] or [shared.ErrAPIRequest].
func (t *Transport) Do(ctx context.Context, req Request) (*Response, error) {
	attempts := uint(1)
	if req.Idempotent {
		attempts = t.attempts
	}

	var resp *Response
	err := retry.Do(
		func() error {
			var err error
			resp, err = t.once(ctx, req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(t.delay),
		retry.MaxDelay(maxDelay),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			var se *statusError
			if errors.As(err, &se) && se.retryAfter > 0 {
				return se.retryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.RetryIf(func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.retryable()
			}
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Debug("retrying request", "method", req.Method, "url", redact(req.URL), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return resp, classifyTransportError(err)
	}
	return resp, nil
}

func (t *Transport) once(ctx context.Context, req Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	t.setPlexHeaders(httpReq, req.Token)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}
	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return resp, nil
	}

	se := &statusError{code: httpResp.StatusCode, status: httpResp.Status}
	if s := httpResp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			se.retryAfter = min(time.Duration(secs)*time.Second, maxDelay)
		}
	}
	return resp, se
}

func (t *Transport) setPlexHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Client-Identifier", t.clientID)
	req.Header.Set("X-Plex-Product", productName)
	req.Header.Set("X-Plex-Version", productVersion)
	if token != "" {
		req.Header.Set("X-Plex-Token", token)
	}
}

func classifyTransportError(err error) error {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", shared.ErrUnauthorized, se)
		case se.code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", shared.ErrNotFound, se)
		case se.retryable():
			return fmt.Errorf("%w: %v", shared.ErrTransient, se)
		default:
			return fmt.Errorf("%w: %v", shared.ErrAPIRequest, se)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", shared.ErrTransient, err)
}

// redact strips the query string, which may carry tokens, from URLs in log lines.
func redact(u string) string {
	for i := 0; i < len(u); i++ {
		if u[i] == '?' {
			return u[:i]
		}
	}
	return u
}
