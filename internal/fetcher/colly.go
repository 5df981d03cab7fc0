package fetcher

import (
	"context"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher implements Fetcher with a gocolly collector. A fresh collector
// is built per call so concurrent fetches share no callback state.
type CollyFetcher struct {
	timeout  time.Duration
	identity Identity
	allow    *HostAllowList
	maxBody  int
}

// NewCollyFetcher creates a colly-backed fetcher.
func NewCollyFetcher(timeout time.Duration, identity Identity, allow *HostAllowList) *CollyFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if identity.UserAgent == "" {
		identity.UserAgent = DefaultUserAgent
	}
	return &CollyFetcher{timeout: timeout, identity: identity, allow: allow, maxBody: DefaultMaxBody}
}

// Fetch retrieves rawURL. Returns ErrInvalidTarget or *FetchError on failure.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (*RawContent, error) {
	u, err := ValidateTarget(rawURL, f.allow)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, transportError(rawURL, err)
	}

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	c := colly.NewCollector(
		colly.UserAgent(f.identity.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(f.maxBody),
	)
	c.SetRequestTimeout(timeout)

	var (
		result    *RawContent
		fetchErr  error
		statusErr int
	)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range f.identity.Headers {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		result = &RawContent{
			URL:        r.Request.URL.String(),
			Body:       string(r.Body),
			StatusCode: r.StatusCode,
			FetchedAt:  time.Now(),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			statusErr = r.StatusCode
		}
	})

	visitErr := c.Visit(u.String())
	if fetchErr == nil {
		fetchErr = visitErr
	}

	if statusErr != 0 {
		return nil, checkResponse(rawURL, statusErr, nil)
	}
	if fetchErr != nil {
		return nil, transportError(rawURL, fetchErr)
	}
	if result == nil {
		return nil, &FetchError{URL: rawURL, Reason: ReasonEmptyBody}
	}
	if err := checkResponse(rawURL, result.StatusCode, []byte(result.Body)); err != nil {
		return nil, err
	}
	return result, nil
}

// Compile-time interface check
var _ Fetcher = (*CollyFetcher)(nil)
