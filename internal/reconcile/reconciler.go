package reconcile

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"auction-ingest/internal/currency"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/resolver"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/upsert"
)

// DefaultMaxErrors is the import error ceiling.
const DefaultMaxErrors = 50

// Options for creating a Reconciler.
type Options struct {
	Store    storage.ListingStore // required
	Writer   *upsert.Writer       // default: upsert.NewWriter(Store)
	Resolver *resolver.Resolver   // default: resolver.New(Store, resolver.DefaultConfig())

	Normalizer *currency.Normalizer // prices of inserted rows. Default: rate 150
	Fees       FeeSchedule          // default: DefaultFeeSchedule()
	MaxErrors  int                  // abort the import above this many row errors. Default: 50
	Metrics    *observability.Metrics
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

// Reconciler exports and imports tabular snapshots.
type Reconciler struct {
	store      storage.ListingStore
	writer     *upsert.Writer
	resolver   *resolver.Resolver
	normalizer *currency.Normalizer
	fees       FeeSchedule
	maxErrors  int
	metrics    *observability.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
}

// New creates a new Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if opts.Writer == nil {
		opts.Writer = upsert.NewWriter(opts.Store)
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(opts.Store, resolver.DefaultConfig())
	}
	if opts.Normalizer == nil {
		n, err := currency.NewNormalizer(currency.DefaultRate, currency.DefaultNominalMin)
		if err != nil {
			return nil, err
		}
		opts.Normalizer = n
	}
	if opts.Fees.PlatformRate.IsZero() && opts.Fees.PaymentRate.IsZero() && opts.Fees.FixedFee.IsZero() {
		kw := opts.Fees.RestrictedKeywords
		opts.Fees = DefaultFeeSchedule()
		opts.Fees.RestrictedKeywords = kw
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		store:      opts.Store,
		writer:     opts.Writer,
		resolver:   opts.Resolver,
		normalizer: opts.Normalizer,
		fees:       opts.Fees,
		maxErrors:  opts.MaxErrors,
		metrics:    opts.Metrics,
		log:        opts.Logger.WithField("component", "reconcile"),
		now:        opts.Now,
	}, nil
}

// Fees returns the schedule used for derived columns.
func (r *Reconciler) Fees() FeeSchedule {
	return r.fees
}
