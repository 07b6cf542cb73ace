package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAuth              = errors.New("catalog authentication failed")
	ErrRateLimitExceeded = errors.New("catalog rate limit exceeded")
	ErrCatalogRequest    = errors.New("catalog request failed")
	ErrNetwork           = errors.New("upstream unreachable")
	ErrNotFound          = errors.New("not found")
	ErrPlaylistsExist    = errors.New("playlists already exist")
)

// AuthError is fatal: the stored credentials were rejected.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%v: %v", ErrAuth, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuth, e.Err}
}

// RateLimitError is returned once every retry of a 429 response is used up.
type RateLimitError struct {
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v after %d attempts (retry after %s)", ErrRateLimitExceeded, e.Attempts, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// CatalogRequestError is a non-retryable catalog response.
type CatalogRequestError struct {
	Status  int
	Message string
}

func (e *CatalogRequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: status %d", ErrCatalogRequest, e.Status)
	}
	return fmt.Sprintf("%v: status %d: %s", ErrCatalogRequest, e.Status, e.Message)
}

func (e *CatalogRequestError) Unwrap() error {
	return ErrCatalogRequest
}

// NetworkError is returned once every retry of a failed connection or timed out attempt is used up.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrNetwork, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// PartialAddError reports the URIs whose chunk could not be added.
type PartialAddError struct {
	Failed []string
	Err    error
}

func (e *PartialAddError) Error() string {
	return fmt.Sprintf("failed to add %d tracks: %v", len(e.Failed), e.Err)
}

func (e *PartialAddError) Unwrap() error {
	return e.Err
}

// IsTrackRecoverable reports whether a catalog error should become a miss instead of aborting.
// Auth errors never are, even when they wrap a catalog response.
func IsTrackRecoverable(err error) bool {
	if errors.Is(err, ErrAuth) {
		return false
	}
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrCatalogRequest) ||
		errors.Is(err, ErrNetwork)
}

// IsNotFound reports whether err is a missing artifact or a catalog 404.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var reqErr *CatalogRequestError
	return errors.As(err, &reqErr) && reqErr.Status == 404
}
