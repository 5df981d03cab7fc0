package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher implements Fetcher with net/http.
type HTTPFetcher struct {
	client   *http.Client
	identity Identity
	allow    *HostAllowList
	maxBody  int64
	now      func() time.Time
}

// Option configures HTTPFetcher.
type Option func(*HTTPFetcher)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// WithIdentity sets the User-Agent and extra request headers.
func WithIdentity(id Identity) Option {
	return func(f *HTTPFetcher) {
		f.identity = id
	}
}

// WithAllowList restricts fetches to matching hosts.
func WithAllowList(l *HostAllowList) Option {
	return func(f *HTTPFetcher) {
		f.allow = l
	}
}

// WithMaxBody caps the number of body bytes read.
func WithMaxBody(n int64) Option {
	return func(f *HTTPFetcher) {
		f.maxBody = n
	}
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: DefaultTimeout},
		identity: Identity{UserAgent: DefaultUserAgent},
		maxBody:  DefaultMaxBody,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves rawURL. Returns ErrInvalidTarget or *FetchError on failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*RawContent, error) {
	u, err := ValidateTarget(rawURL, f.allow)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if f.identity.UserAgent != "" {
		req.Header.Set("User-Agent", f.identity.UserAgent)
	}
	for k, v := range f.identity.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transportError(rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, transportError(rawURL, err)
	}
	if err := checkResponse(rawURL, resp.StatusCode, body); err != nil {
		return nil, err
	}

	return &RawContent{
		URL:        resp.Request.URL.String(),
		Body:       string(body),
		StatusCode: resp.StatusCode,
		FetchedAt:  f.now(),
	}, nil
}

// Compile-time interface check
var _ Fetcher = (*HTTPFetcher)(nil)
