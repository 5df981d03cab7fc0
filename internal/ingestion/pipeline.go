// Package ingestion runs a single listing URL through
// fetch, extract, normalize, resolve and write.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"auction-ingest/internal/currency"
	"auction-ingest/internal/domain"
	"auction-ingest/internal/events"
	"auction-ingest/internal/extract"
	"auction-ingest/internal/fetcher"
	"auction-ingest/internal/lock"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/resolver"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/upsert"
)

// DefaultMaxWriteAttempts bounds re-resolution after a version conflict.
const DefaultMaxWriteAttempts = 3

// Stage names the last pipeline stage a URL reached.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageLock    Stage = "lock"
	StageResolve Stage = "resolve"
	StageWrite   Stage = "write"
	StageDone    Stage = "done"
)

// URLResult is the outcome of processing one URL.
type URLResult struct {
	URL       string             `json:"url"`
	Stage     Stage              `json:"stage"`
	Action    domain.WriteAction `json:"action,omitempty"`
	RecordID  string             `json:"record_id,omitempty"`
	Changed   bool               `json:"changed"`
	MatchTier string             `json:"match_tier,omitempty"`
	Ambiguous []string           `json:"ambiguous,omitempty"` // required fields that used defaults
	Err       error              `json:"-"`
	Error     string             `json:"error,omitempty"`
}

// OK reports whether the URL was written.
func (r URLResult) OK() bool {
	return r.Err == nil
}

func (r URLResult) fail(stage Stage, err error) URLResult {
	r.Stage = stage
	r.Err = err
	r.Error = err.Error()
	return r
}

// Processor runs one URL. Implemented by *Pipeline.
type Processor interface {
	Process(ctx context.Context, url string) URLResult
}

// Options for creating a Pipeline.
type Options struct {
	// Required stages
	Fetcher    fetcher.Fetcher
	Extractor  *extract.Extractor
	Normalizer *currency.Normalizer
	Resolver   *resolver.Resolver
	Writer     *upsert.Writer

	// Optional collaborators
	Locker       lock.Locker              // default: in-process keyed mutex
	Observations storage.ObservationStore // price history, skipped when nil
	Publisher    events.Publisher         // change events, skipped when nil
	Metrics      *observability.Metrics

	FetchTimeout     time.Duration // Default: fetcher.DefaultTimeout
	MaxWriteAttempts int           // Default: 3
	Logger           logrus.FieldLogger
}

// Pipeline wires the single-URL stages together.
type Pipeline struct {
	fetcher      fetcher.Fetcher
	extractor    *extract.Extractor
	normalizer   *currency.Normalizer
	resolver     *resolver.Resolver
	writer       *upsert.Writer
	locker       lock.Locker
	observations storage.ObservationStore
	publisher    events.Publisher
	metrics      *observability.Metrics
	fetchTimeout time.Duration
	maxAttempts  int
	log          logrus.FieldLogger
}

// New creates a new Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Fetcher == nil || opts.Extractor == nil || opts.Normalizer == nil || opts.Resolver == nil || opts.Writer == nil {
		return nil, errors.New("ingestion: fetcher, extractor, normalizer, resolver and writer are required")
	}

	locker := opts.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = fetcher.DefaultTimeout
	}
	maxAttempts := opts.MaxWriteAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxWriteAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Pipeline{
		fetcher:      opts.Fetcher,
		extractor:    opts.Extractor,
		normalizer:   opts.Normalizer,
		resolver:     opts.Resolver,
		writer:       opts.Writer,
		locker:       locker,
		observations: opts.Observations,
		publisher:    publisher,
		metrics:      opts.Metrics,
		fetchTimeout: fetchTimeout,
		maxAttempts:  maxAttempts,
		log:          logger.WithField("component", "pipeline"),
	}, nil
}

// Process runs url through every stage. Failures are returned in the result,
// never as a panic or separate error.
func (p *Pipeline) Process(ctx context.Context, url string) URLResult {
	start := time.Now()
	res := p.process(ctx, url)
	p.metrics.RecordPipeline(string(res.Stage), time.Since(start).Seconds())

	log := p.log.WithFields(logrus.Fields{"url": url, "stage": res.Stage})
	if res.Err != nil {
		log.WithError(res.Err).Warn("Listing failed")
	} else {
		log.WithFields(logrus.Fields{
			"listing_id": res.RecordID,
			"action":     res.Action,
			"changed":    res.Changed,
		}).Info("Listing stored")
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, url string) URLResult {
	res := URLResult{URL: url, Stage: StageFetch}

	raw, err := p.fetch(ctx, url)
	if err != nil {
		return res.fail(StageFetch, err)
	}

	candidate, report := p.extractor.ExtractWithReport(raw.Body, url)
	p.metrics.RecordExtraction(report.Matched, report.Ambiguous, report.Panicked)
	if err := report.Err(); err != nil {
		res.Ambiguous = report.Ambiguous
		p.log.WithFields(logrus.Fields{"url": url, "fields": report.Ambiguous}).Debug("Extraction used defaults")
	}
	p.normalizer.Apply(candidate)

	unlock, err := p.locker.Lock(ctx, LockKey(candidate))
	if err != nil {
		return res.fail(StageLock, fmt.Errorf("lock %s: %w", url, err))
	}
	defer unlock()

	wr, match, stage, err := p.resolveAndWrite(ctx, candidate)
	if err != nil {
		return res.fail(stage, err)
	}

	res.Stage = StageDone
	res.Action = wr.Action
	res.RecordID = wr.RecordID
	res.Changed = wr.Changed
	res.MatchTier = match.Tier.String()
	p.metrics.RecordWrite(string(wr.Action), wr.Changed, float64(time.Now().Unix()))

	p.afterWrite(ctx, wr)
	return res
}

func (p *Pipeline) fetch(ctx context.Context, url string) (*fetcher.RawContent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	start := time.Now()
	raw, err := p.fetcher.Fetch(ctx, url)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var fe *fetcher.FetchError
		switch {
		case errors.As(err, &fe):
			outcome = fe.Reason
		case errors.Is(err, fetcher.ErrInvalidTarget):
			outcome = "invalid_target"
		}
	}
	p.metrics.RecordFetch(outcome, time.Since(start).Seconds())
	return raw, err
}

// resolveAndWrite re-resolves after a version conflict or duplicate key so
// a concurrent writer's record is merged into instead of duplicated.
func (p *Pipeline) resolveAndWrite(ctx context.Context, candidate *domain.ListingRecord) (upsert.WriteResult, resolver.Match, Stage, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		match, err := p.resolver.Resolve(ctx, candidate)
		if err != nil {
			return upsert.WriteResult{}, match, StageResolve, fmt.Errorf("resolve %s: %w", candidate.SourceURL, err)
		}
		p.metrics.RecordResolve(match.Tier.String())

		wr, err := p.writer.Write(ctx, candidate.Clone(), match.Key)
		if err == nil {
			return wr, match, StageWrite, nil
		}
		if !upsert.IsRetryable(err) {
			return upsert.WriteResult{}, match, StageWrite, err
		}
		lastErr = err
		p.metrics.RecordConflict()
		p.log.WithFields(logrus.Fields{"url": candidate.SourceURL, "attempt": attempt}).WithError(err).Debug("Write conflict, re-resolving")
	}
	return upsert.WriteResult{}, resolver.Match{}, StageWrite, fmt.Errorf("write %s after %d attempts: %w", candidate.SourceURL, p.maxAttempts, lastErr)
}

// afterWrite records history and publishes the change. Neither fails the URL.
func (p *Pipeline) afterWrite(ctx context.Context, wr upsert.WriteResult) {
	log := p.log.WithField("listing_id", wr.RecordID)

	if p.observations != nil && wr.Record != nil {
		if err := p.observations.Append(ctx, domain.NewPriceObservation(wr.Record)); err != nil {
			log.WithError(err).Warn("Failed to append price observation")
		}
	}

	ev := events.ListingChanged{
		Action:    wr.Action,
		ListingID: wr.RecordID,
		Changed:   wr.Changed,
		At:        time.Now().UnixMilli(),
	}
	if wr.Record != nil {
		ev.SourceURL = wr.Record.SourceURL
		ev.At = wr.Record.LastScrapedAt
	}
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.metrics.RecordPublishError()
		log.WithError(err).Warn("Failed to publish listing event")
	}
}

// LockKey serializes pipelines that would resolve to the same record.
// Pages carrying a platform id lock on it, others on their URL.
func LockKey(r *domain.ListingRecord) string {
	if id := domain.StringValue(r.SourceListingID); id != "" {
		return "id:" + id
	}
	return "url:" + r.SourceURL
}
