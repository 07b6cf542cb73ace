// Package fetch downloads pages and turns HTML or PDF bodies into plain text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/transport"
	"github.com/smartschat/playlist-from-web/pkg/text"
)

const (
	// DefaultMaxBytes caps how much of a response body is read
	DefaultMaxBytes = 5 * 1024 * 1024

	userAgent = "playlist-from-web/1.0"
)

// ErrPageFetch marks a page that answered with an error status.
var ErrPageFetch = errors.New("page fetch failed")

// PageError is an error status from a fetched page, kept apart from catalog errors.
type PageError struct {
	Status  int
	Message string
}

func (e *PageError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: status %d", ErrPageFetch, e.Status)
	}
	return fmt.Sprintf("%v: status %d: %s", ErrPageFetch, e.Status, e.Message)
}

func (e *PageError) Unwrap() error {
	return ErrPageFetch
}

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
	Retry    transport.RetryConfig
}

// Fetcher implements core.Fetcher over an HTTP client that retries 429 and 5xx responses.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

func NewFetcher(config Config, logger *zap.Logger, metrics core.Metrics) *Fetcher {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.Retry.RequestError == nil {
		config.Retry.RequestError = func(status int, message string) error {
			return &PageError{Status: status, Message: message}
		}
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport.NewRetry(http.DefaultTransport, config.Retry, logger, metrics),
		},
		maxBytes: config.MaxBytes,
		logger:   logger,
	}
}

// Fetch downloads rawURL. The page is treated as PDF when the URL path ends in .pdf
// or the server says application/pdf.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*core.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	page := &core.Page{
		URL:         rawURL,
		Body:        body,
		ContentType: contentType,
		IsPDF:       text.IsPDFURL(rawURL) || mediaType == "application/pdf",
	}

	f.logger.Debug("Fetched page",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.Bool("pdf", page.IsPDF),
		zap.Duration("duration", time.Since(start)))

	return page, nil
}

// PageText returns the readable text of a fetched page.
func PageText(page *core.Page) (string, error) {
	if page.IsPDF {
		return PDFText(page.Body)
	}
	return CleanHTML(page.Body), nil
}

// IsURL reports whether s looks like an absolute http(s) URL.
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
