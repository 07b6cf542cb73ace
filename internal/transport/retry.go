// Package transport provides HTTP middleware shared by the catalog client and the page fetcher.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smartschat/playlist-from-web/internal/core"
)

const (
	// maxErrorBodyBytes bounds how much of an error response is read for its message
	maxErrorBodyBytes = 4096
	// maxErrorMessageLength bounds the message carried by CatalogRequestError
	maxErrorMessageLength = 200
)

type RetryConfig struct {
	// MaxAttempts is the total number of tries per request, including the first.
	MaxAttempts int
	// BaseDelay is the first 5xx backoff and the 429 delay when no Retry-After is sent.
	BaseDelay time.Duration
	// MaxDelay caps any single sleep.
	MaxDelay time.Duration
	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
	// AttemptTimeout bounds each attempt until its response body is closed. Zero disables it.
	AttemptTimeout time.Duration
	// RequestError builds the error for a non-retryable or exhausted error status.
	// Nil yields *core.CatalogRequestError.
	RequestError func(status int, message string) error
}

// Retry is an http.RoundTripper that retries 429 responses after the server's
// Retry-After hint (doubling on consecutive 429s), and 5xx responses, refused or
// reset connections and timed out attempts with exponential backoff. Other 4xx
// responses and exhausted retries surface as typed errors from internal/core.
type Retry struct {
	base    http.RoundTripper
	config  RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics core.Metrics

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetry(base http.RoundTripper, config RetryConfig, logger *zap.Logger, metrics core.Metrics) *Retry {
	if base == nil {
		base = http.DefaultTransport
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = core.DefaultMaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	if config.RequestError == nil {
		config.RequestError = catalogRequestError
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Retry{
		base:    base,
		config:  config,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

func (t *Retry) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	consecutive429 := 0

	for attempt := 1; ; attempt++ {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}

		attemptReq, cancel := t.withAttemptTimeout(attemptReq)
		resp, err := t.base.RoundTrip(attemptReq)
		if err != nil {
			cancel()
			if ctx.Err() != nil || !transient(err) {
				return nil, err
			}
			consecutive429 = 0

			if attempt >= t.config.MaxAttempts {
				t.logger.Warn("Network retries exhausted",
					zap.String("url", req.URL.Redacted()),
					zap.Int("attempts", attempt),
					zap.Error(err))
				return nil, &core.NetworkError{Attempts: attempt, Err: err}
			}

			delay := t.backoff(attempt)
			t.metrics.RecordCatalogRetry("network_error")
			t.logger.Debug("Network error, backing off",
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))

			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}
		resp.Body = &attemptBody{ReadCloser: resp.Body, parent: ctx, attempt: attemptReq.Context(), attempts: attempt, cancel: cancel}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			consecutive429++
			delay := t.rateLimitDelay(resp.Header.Get("Retry-After"), consecutive429)
			drain(resp)

			if attempt >= t.config.MaxAttempts {
				t.logger.Warn("Rate limit retries exhausted",
					zap.String("url", req.URL.Redacted()),
					zap.Int("attempts", attempt))
				return nil, &core.RateLimitError{Attempts: attempt, RetryAfter: delay}
			}

			t.metrics.RecordCatalogRetry("rate_limited")
			t.logger.Debug("Rate limited, backing off",
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}

		case resp.StatusCode >= http.StatusInternalServerError:
			consecutive429 = 0

			if attempt >= t.config.MaxAttempts {
				return nil, t.requestError(resp)
			}
			drain(resp)

			delay := t.backoff(attempt)
			t.metrics.RecordCatalogRetry("server_error")
			t.logger.Debug("Server error, backing off",
				zap.String("url", req.URL.Redacted()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}

		case resp.StatusCode >= http.StatusBadRequest:
			return nil, t.requestError(resp)

		default:
			return resp, nil
		}
	}
}

func (t *Retry) withAttemptTimeout(req *http.Request) (*http.Request, context.CancelFunc) {
	if t.config.AttemptTimeout <= 0 {
		return req, func() {}
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.config.AttemptTimeout)
	return req.WithContext(ctx), cancel
}

// transient reports whether a failed round trip may succeed when repeated: connection
// failures, dropped connections and attempts cut off by AttemptTimeout. The caller has
// already ruled out cancellation of the request's own context.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// attemptBody releases the attempt's timeout on Close and reports a body cut off by
// that timeout as *core.NetworkError.
type attemptBody struct {
	io.ReadCloser
	parent   context.Context
	attempt  context.Context
	attempts int
	cancel   context.CancelFunc
}

func (b *attemptBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF && b.parent.Err() == nil && b.attempt.Err() != nil {
		err = &core.NetworkError{Attempts: b.attempts, Err: err}
	}
	return n, err
}

func (b *attemptBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// rateLimitDelay doubles the hinted delay for every consecutive 429 after the first.
func (t *Retry) rateLimitDelay(header string, consecutive int) time.Duration {
	delay := ParseRetryAfter(header, time.Now())
	if delay <= 0 {
		delay = t.config.BaseDelay
	}
	for i := 1; i < consecutive && delay < t.config.MaxDelay; i++ {
		delay *= 2
	}
	return min(delay, t.config.MaxDelay)
}

func (t *Retry) backoff(attempt int) time.Duration {
	delay := t.config.BaseDelay
	for i := 1; i < attempt && delay < t.config.MaxDelay; i++ {
		delay *= 2
	}
	return min(delay, t.config.MaxDelay)
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as an HTTP date.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}

	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}

func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry request with non-rewindable body")
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}

	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func (t *Retry) requestError(resp *http.Response) error {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return t.config.RequestError(resp.StatusCode, errorMessage(body))
}

func catalogRequestError(status int, message string) error {
	return &core.CatalogRequestError{Status: status, Message: message}
}

// errorMessage extracts {"error":{"message":...}} or {"error":"..."} bodies and
// falls back to the raw text.
func errorMessage(body []byte) string {
	var structured struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error.Message != "" {
		return structured.Error.Message
	}

	var flat struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		if flat.ErrorDescription != "" {
			return flat.Error + ": " + flat.ErrorDescription
		}
		return flat.Error
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength]
	}
	return msg
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
