// Package resolver decides whether an extracted listing is new or matches
// a stored one, and finds duplicate groups across a record set.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/textnorm"
)

// Default thresholds for title matching.
const (
	DefaultPrefixLen   = 30
	DefaultMinTitleLen = 20
)

// Tier is a match strategy, in priority order.
type Tier int

const (
	TierNone Tier = iota
	TierIdentifier
	TierURL
	TierExactTitle
	TierTitlePrefix
)

func (t Tier) String() string {
	switch t {
	case TierIdentifier:
		return "identifier"
	case TierURL:
		return "url"
	case TierExactTitle:
		return "exact_title"
	case TierTitlePrefix:
		return "title_prefix"
	default:
		return "none"
	}
}

// Config holds the title thresholds, counted in runes of the normalized title.
type Config struct {
	PrefixLen   int
	MinTitleLen int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{PrefixLen: DefaultPrefixLen, MinTitleLen: DefaultMinTitleLen}
}

func (c Config) withDefaults() Config {
	if c.PrefixLen <= 0 {
		c.PrefixLen = DefaultPrefixLen
	}
	if c.MinTitleLen <= 0 {
		c.MinTitleLen = DefaultMinTitleLen
	}
	return c
}

// Match is the outcome of resolving one candidate. A zero Match means no match.
type Match struct {
	Key    string // listing_id of the matched record
	Tier   Tier
	Record *domain.ListingRecord // matched record as read
}

// Found reports whether a stored record matched.
func (m Match) Found() bool {
	return m.Key != ""
}

// Resolver matches candidates against stored records.
type Resolver struct {
	lookup storage.ListingLookup
	cfg    Config
}

// New creates a new Resolver.
func New(lookup storage.ListingLookup, cfg Config) *Resolver {
	return &Resolver{lookup: lookup, cfg: cfg.withDefaults()}
}

// Config returns the effective thresholds.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Resolve evaluates identifier, URL and title-prefix matching in that order
// and stops at the first hit. Exact-title matching is only used by ScanDuplicates.
func (r *Resolver) Resolve(ctx context.Context, c *domain.ListingRecord) (Match, error) {
	if c == nil {
		return Match{}, storage.ErrInvalidInput
	}

	if id := domain.StringValue(c.SourceListingID); id != "" {
		rec, err := r.lookup.GetBySourceListingID(ctx, id)
		if m, err := found(rec, err, TierIdentifier); m.Found() || err != nil {
			return m, err
		}
	}

	if c.SourceURL != "" {
		rec, err := r.lookup.GetByURL(ctx, c.SourceURL)
		if m, err := found(rec, err, TierURL); m.Found() || err != nil {
			return m, err
		}
	}

	key, ok := r.titleKey(c)
	if !ok {
		return Match{}, nil
	}
	prefix := textnorm.Prefix(key, r.cfg.PrefixLen)
	candidates, err := r.lookup.FindByTitlePrefix(ctx, prefix, r.cfg.MinTitleLen)
	if err != nil {
		return Match{}, fmt.Errorf("title prefix lookup: %w", err)
	}
	for _, rec := range candidates {
		other, ok := r.titleKey(rec)
		if !ok || textnorm.Prefix(other, r.cfg.PrefixLen) != prefix || identifiersConflict(c, rec) {
			continue
		}
		return Match{Key: rec.ID, Tier: TierTitlePrefix, Record: rec}, nil
	}

	return Match{}, nil
}

func found(rec *domain.ListingRecord, err error, tier Tier) (Match, error) {
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Match{}, nil
		}
		return Match{}, fmt.Errorf("%s lookup: %w", tier, err)
	}
	return Match{Key: rec.ID, Tier: tier, Record: rec}, nil
}

// titleKey returns the normalized title when it is eligible for prefix matching.
func (r *Resolver) titleKey(rec *domain.ListingRecord) (string, bool) {
	if rec.PlaceholderTitle {
		return "", false
	}
	key := textnorm.TitleKey(rec.Title)
	if textnorm.Len(key) < r.cfg.MinTitleLen {
		return "", false
	}
	return key, true
}

// identifiersConflict reports two records that carry different platform
// identifiers; title tiers never join them.
func identifiersConflict(a, b *domain.ListingRecord) bool {
	ida, idb := domain.StringValue(a.SourceListingID), domain.StringValue(b.SourceListingID)
	return ida != "" && idb != "" && ida != idb
}
