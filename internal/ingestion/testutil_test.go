package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"auction-ingest/internal/currency"
	"auction-ingest/internal/events"
	"auction-ingest/internal/extract"
	"auction-ingest/internal/fetcher"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/resolver"
	"auction-ingest/internal/storage/memory"
	"auction-ingest/internal/upsert"
)

// fakeFetcher serves pages from a map; URLs missing from it fail with a 404.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	delay time.Duration
	calls map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetcher.RawContent, error) {
	f.mu.Lock()
	f.calls[url]++
	body, ok := f.pages[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &fetcher.FetchError{URL: url, Reason: fetcher.ReasonTimeout, Err: ctx.Err()}
		}
	}
	if !ok {
		return nil, &fetcher.FetchError{URL: url, Reason: fetcher.ReasonStatus, StatusCode: 404}
	}
	return &fetcher.RawContent{URL: url, Body: body, StatusCode: 200, FetchedAt: time.Now()}, nil
}

func (f *fakeFetcher) setPage(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
}

// productPage renders a JSON-LD product page. An empty brand is omitted.
func productPage(title string, price int, brand string) string {
	var b strings.Builder
	b.WriteString(`<html><head><script type="application/ld+json">{"@type":"Product",`)
	fmt.Fprintf(&b, `"name":%q,`, title)
	if brand != "" {
		fmt.Fprintf(&b, `"brand":{"name":%q},`, brand)
	}
	fmt.Fprintf(&b, `"image":"https://img.example.com/%d.jpg",`, price)
	fmt.Fprintf(&b, `"offers":{"price":"%d","availability":"https://schema.org/InStock"}}`, price)
	b.WriteString(`</script></head><body></body></html>`)
	return b.String()
}

type testEnv struct {
	fetcher      *fakeFetcher
	listings     *memory.ListingStore
	observations *memory.ObservationStore
	publisher    *events.MemoryPublisher
	pipeline     *Pipeline
}

func newTestEnv(t *testing.T, pages map[string]string) *testEnv {
	t.Helper()

	norm, err := currency.NewNormalizer(currency.DefaultRate, currency.DefaultNominalMin)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	env := &testEnv{
		fetcher:      newFakeFetcher(pages),
		listings:     memory.NewListingStore(),
		observations: memory.NewObservationStore(),
		publisher:    &events.MemoryPublisher{},
	}
	env.pipeline, err = New(Options{
		Fetcher:      env.fetcher,
		Extractor:    extract.New(extract.Options{Platform: "Example", Logger: logger}),
		Normalizer:   norm,
		Resolver:     resolver.New(env.listings, resolver.DefaultConfig()),
		Writer:       upsert.NewWriter(env.listings),
		Observations: env.observations,
		Publisher:    env.publisher,
		Metrics:      observability.NewMetrics("test", prometheus.NewRegistry()),
		FetchTimeout: time.Second,
		Logger:       logger,
	})
	require.NoError(t, err)
	return env
}
