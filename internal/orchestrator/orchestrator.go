// Package orchestrator drives batches of listing URLs through the ingestion
// pipeline with bounded concurrency, an inter-request delay and an optional
// batch deadline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"auction-ingest/internal/ingestion"
	"auction-ingest/internal/observability"
)

// Defaults applied when Options leave a value unset.
const (
	DefaultWorkers   = 1
	DefaultMaxErrors = 100
)

// ErrDeadlineExceeded marks URLs never dispatched because the batch deadline passed.
var ErrDeadlineExceeded = errors.New("batch deadline exceeded before dispatch")

// Orchestrator runs URL batches. Failures of one URL never stop the batch and
// are never retried here; callers resubmit from the result.
type Orchestrator struct {
	processor ingestion.Processor
	workers   int
	delay     time.Duration
	deadline  time.Duration
	maxErrors int
	metrics   *observability.Metrics
	logger    logrus.FieldLogger
}

// Options for creating Orchestrator.
type Options struct {
	Processor ingestion.Processor // required

	Workers   int           // concurrent pipelines. Default: 1
	Delay     time.Duration // minimum spacing between dispatches, 0 disables
	Deadline  time.Duration // stop dispatching after this long, 0 disables
	MaxErrors int           // bound on BatchResult.Errors. Default: 100
	Metrics   *observability.Metrics
	Logger    logrus.FieldLogger
}

// New creates a new Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Processor == nil {
		return nil, errors.New("orchestrator: processor is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	maxErrors := opts.MaxErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		processor: opts.Processor,
		workers:   workers,
		delay:     opts.Delay,
		deadline:  opts.Deadline,
		maxErrors: maxErrors,
		metrics:   opts.Metrics,
		logger:    logger.WithField("component", "orchestrator"),
	}, nil
}

// BatchResult contains results from one batch run.
type BatchResult struct {
	RunID        string                `json:"run_id"`
	StartedAt    int64                 `json:"started_at"`  // Unix ms
	FinishedAt   int64                 `json:"finished_at"` // Unix ms
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	Results      []ingestion.URLResult `json:"results"` // sorted by URL
	Errors       []string              `json:"errors,omitempty"`
}

// Run processes urls and aggregates per-URL results. Blank and repeated URLs
// are dropped. The returned error is reserved for a batch that cannot start.
func (o *Orchestrator) Run(ctx context.Context, urls []string) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{RunID: uuid.NewString(), StartedAt: start.UnixMilli()}
	log := o.logger.WithField("run_id", result.RunID)

	urls = uniqueURLs(urls)
	if len(urls) == 0 {
		result.FinishedAt = time.Now().UnixMilli()
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch not started: %w", err)
	}

	log.WithFields(logrus.Fields{
		"urls":     len(urls),
		"workers":  o.workers,
		"delay":    o.delay,
		"deadline": o.deadline,
	}).Info("Starting batch")

	// dispatchCtx bounds dispatching only; in-flight pipelines run on ctx.
	dispatchCtx := ctx
	if o.deadline > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	var limiter *rate.Limiter
	if o.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(o.delay), 1)
	}

	results := make([]ingestion.URLResult, len(urls))
	g := new(errgroup.Group)
	g.SetLimit(o.workers)

	for i, u := range urls {
		if !o.mayDispatch(dispatchCtx, limiter) {
			for j := i; j < len(urls); j++ {
				results[j] = undispatched(ctx, urls[j])
			}
			break
		}

		g.Go(func() error {
			// A worker slot may free up only after the deadline.
			if dispatchCtx.Err() != nil {
				results[i] = undispatched(ctx, u)
				return nil
			}
			results[i] = o.processor.Process(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].URL < results[b].URL
	})
	result.Results = results
	for _, r := range results {
		if r.OK() {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		if len(result.Errors) < o.maxErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", r.URL, r.Error))
		}
	}
	result.FinishedAt = time.Now().UnixMilli()

	elapsed := time.Since(start)
	o.metrics.RecordBatch(result.SuccessCount, result.FailureCount, elapsed.Seconds())
	log.WithFields(logrus.Fields{
		"success":  result.SuccessCount,
		"failure":  result.FailureCount,
		"duration": elapsed.Round(time.Millisecond),
	}).Info("Batch completed")

	return result, nil
}

// mayDispatch waits out the inter-request delay. It reports false once the
// deadline passed or would pass during the wait.
func (o *Orchestrator) mayDispatch(ctx context.Context, limiter *rate.Limiter) bool {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
	}
	return ctx.Err() == nil
}

// undispatched reports a URL skipped because dispatching stopped.
func undispatched(parent context.Context, url string) ingestion.URLResult {
	err := ErrDeadlineExceeded
	if parent.Err() != nil {
		err = fmt.Errorf("batch cancelled before dispatch: %w", parent.Err())
	}
	return ingestion.URLResult{
		URL:   url,
		Stage: ingestion.StageFetch,
		Err:   err,
		Error: err.Error(),
	}
}

func uniqueURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
