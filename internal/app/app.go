// Package app assembles stores and pipeline components from a Config. The
// commands share it so every entry point wires the same stack.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"auction-ingest/internal/config"
	"auction-ingest/internal/currency"
	"auction-ingest/internal/events"
	"auction-ingest/internal/extract"
	"auction-ingest/internal/fetcher"
	"auction-ingest/internal/ingestion"
	"auction-ingest/internal/lock"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/orchestrator"
	"auction-ingest/internal/reconcile"
	"auction-ingest/internal/resolver"
	"auction-ingest/internal/storage"
	chstore "auction-ingest/internal/storage/clickhouse"
	"auction-ingest/internal/storage/memory"
	pgstore "auction-ingest/internal/storage/postgres"
	"auction-ingest/internal/upsert"
)

// LockPrefix namespaces RedisLocker keys.
const LockPrefix = "auction-ingest:lock:"

// Stores holds the storage backends. Observations is nil when price history
// is disabled (no ClickHouse DSN outside memory mode).
type Stores struct {
	Listings     storage.ListingStore
	Observations storage.ObservationStore
	closers      []func()
}

// Close releases every connection in reverse opening order.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores connects the configured backends.
func OpenStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Stores, error) {
	if cfg.UseMemory {
		return &Stores{
			Listings:     memory.NewListingStore(),
			Observations: memory.NewObservationStore(),
		}, nil
	}
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required (use --use-memory for in-memory storage)")
	}

	// One connection per worker plus headroom for the API and reconciliation.
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(cfg.Workers+4))
	if err != nil {
		return nil, err
	}
	s := &Stores{Listings: pgstore.NewListingStore(pool)}
	s.closers = append(s.closers, pool.Close)

	if cfg.ClickhouseDSN == "" {
		log.Warn("CLICKHOUSE_DSN not set, price history disabled")
		return s, nil
	}
	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	s.Observations = chstore.NewObservationStore(conn)
	s.closers = append(s.closers, func() { _ = conn.Close() })
	return s, nil
}

// NewLocker returns a RedisLocker when REDIS_ADDR is set and an in-process
// keyed mutex otherwise.
func NewLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return lock.NewRedisLocker(client, LockPrefix, lock.DefaultLockTTL), func() { _ = client.Close() }, nil
}

// NewPublisher returns a Kafka publisher when brokers are configured.
func NewPublisher(cfg *config.Config) (events.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}, func() {}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

// NewFetcher builds the fetcher named by cfg.Fetcher.
func NewFetcher(cfg *config.Config) (fetcher.Fetcher, error) {
	allow, err := fetcher.NewHostAllowList(cfg.AllowedHosts)
	if err != nil {
		return nil, err
	}
	identity := fetcher.Identity{UserAgent: cfg.UserAgent}
	if cfg.Fetcher == "colly" {
		return fetcher.NewCollyFetcher(cfg.FetchTimeout, identity, allow), nil
	}
	return fetcher.NewHTTPFetcher(
		fetcher.WithTimeout(cfg.FetchTimeout),
		fetcher.WithIdentity(identity),
		fetcher.WithAllowList(allow),
	), nil
}

// FeeSchedule maps the reconciliation fee settings.
func FeeSchedule(cfg *config.Config) reconcile.FeeSchedule {
	return reconcile.FeeSchedule{
		PlatformRate:       cfg.PlatformFeeRate,
		PaymentRate:        cfg.PaymentFeeRate,
		FixedFee:           cfg.FixedFee,
		LowMarginPct:       cfg.LowMarginPct,
		RestrictedKeywords: cfg.RestrictedKeywords,
	}
}

// Components is the fully wired engine.
type Components struct {
	Stores       *Stores
	Writer       *upsert.Writer
	Resolver     *resolver.Resolver
	Pipeline     *ingestion.Pipeline
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *reconcile.Reconciler
	Publisher    events.Publisher
	Metrics      *observability.Metrics

	closers []func()
}

// Close releases publishers, locks and stores.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build wires every component from cfg. Close must be called on success.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, log logrus.FieldLogger) (*Components, error) {
	c := &Components{Metrics: metrics}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c.Stores = stores
	c.closers = append(c.closers, stores.Close)

	locker, closeLocker, err := NewLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, closeLocker)

	publisher, closePublisher, err := NewPublisher(cfg)
	if err != nil {
		return nil, err
	}
	c.Publisher = publisher
	c.closers = append(c.closers, closePublisher)

	f, err := NewFetcher(cfg)
	if err != nil {
		return nil, err
	}
	normalizer, err := currency.NewNormalizer(cfg.ExchangeRate, cfg.NominalMinPrice)
	if err != nil {
		return nil, err
	}

	c.Writer = upsert.NewWriter(stores.Listings)
	c.Resolver = resolver.New(stores.Listings, resolver.Config{
		PrefixLen:   cfg.TitlePrefixLen,
		MinTitleLen: cfg.TitleMinLen,
	})

	c.Pipeline, err = ingestion.New(ingestion.Options{
		Fetcher: f,
		Extractor: extract.New(extract.Options{
			Platform:    cfg.PlatformName,
			TitleMinLen: cfg.ExtractTitleMinLen,
			Logger:      log,
		}),
		Normalizer:   normalizer,
		Resolver:     c.Resolver,
		Writer:       c.Writer,
		Locker:       locker,
		Observations: stores.Observations,
		Publisher:    publisher,
		Metrics:      metrics,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	c.Orchestrator, err = orchestrator.New(orchestrator.Options{
		Processor: c.Pipeline,
		Workers:   cfg.Workers,
		Delay:     cfg.RequestDelay,
		Deadline:  cfg.BatchDeadline,
		Metrics:   metrics,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	c.Reconciler, err = reconcile.New(reconcile.Options{
		Store:      stores.Listings,
		Writer:     c.Writer,
		Resolver:   c.Resolver,
		Normalizer: normalizer,
		Fees:       FeeSchedule(cfg),
		MaxErrors:  cfg.ImportMaxErrors,
		Metrics:    metrics,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return c, nil
}
