// Package fetcher retrieves raw listing pages. Fetchers never retry and
// never touch storage; retry policy belongs to the caller.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; auction-ingest/1.0)"
	DefaultMaxBody   = 8 << 20
)

// ErrInvalidTarget is returned for URLs that are not absolute http(s) URLs
// on an allow-listed host. Not retryable.
var ErrInvalidTarget = errors.New("invalid target")

// Failure reasons carried by FetchError.
const (
	ReasonTimeout   = "timeout"
	ReasonNetwork   = "network"
	ReasonStatus    = "status"
	ReasonEmptyBody = "empty_body"
)

// FetchError describes a failed fetch. Retryable by caller policy.
type FetchError struct {
	URL        string
	Reason     string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Reason, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RawContent is a successfully fetched page.
type RawContent struct {
	URL        string // final URL after redirects
	Body       string
	StatusCode int
	FetchedAt  time.Time
}

// Identity is how the fetcher identifies itself to remote hosts.
type Identity struct {
	UserAgent string
	Headers   map[string]string
}

// Fetcher retrieves the raw content of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*RawContent, error)
}

// transportError classifies a transport-level failure.
func transportError(url string, err error) *FetchError {
	reason := ReasonNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		reason = ReasonTimeout
	}
	return &FetchError{URL: url, Reason: reason, Err: err}
}

// checkResponse applies the status and empty-body rules shared by all fetchers.
func checkResponse(url string, status int, body []byte) error {
	if status < 200 || status > 299 {
		return &FetchError{URL: url, Reason: ReasonStatus, StatusCode: status}
	}
	if len(body) == 0 {
		return &FetchError{URL: url, Reason: ReasonEmptyBody, StatusCode: status}
	}
	return nil
}
