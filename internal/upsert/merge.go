// Package upsert persists listing records with merge-don't-erase semantics:
// absent candidate values never overwrite stored ones.
package upsert

import (
	"slices"

	"github.com/shopspring/decimal"

	"auction-ingest/internal/domain"
)

// Merge returns prior updated with every value candidate carries. Nil,
// empty, placeholder or Unknown candidate values keep the prior value. The
// stored source_url, id and audit fields of prior are retained.
func Merge(prior, candidate *domain.ListingRecord) *domain.ListingRecord {
	m := prior.Clone()

	if id := domain.StringValue(candidate.SourceListingID); id != "" {
		m.SourceListingID = domain.Ptr(id)
	}
	if candidate.Platform != "" {
		m.Platform = candidate.Platform
	}
	if candidate.Title != "" && (!candidate.PlaceholderTitle || prior.PlaceholderTitle) {
		m.Title = candidate.Title
		m.PlaceholderTitle = candidate.PlaceholderTitle
	}

	// Price fields move together so priceNormalized stays derivable.
	if candidate.PriceMinor != nil {
		m.PriceMinor = domain.Ptr(*candidate.PriceMinor)
		m.PriceNormalized = candidate.PriceNormalized
		m.ExchangeRate = nil
		if candidate.ExchangeRate != nil {
			m.ExchangeRate = domain.Ptr(*candidate.ExchangeRate)
		}
	}

	if len(candidate.Images) > 0 {
		m.Images = slices.Clone(candidate.Images)
	}
	if domain.StringValue(candidate.Description) != "" {
		m.Description = domain.Ptr(*candidate.Description)
	}
	if len(candidate.CategoryPath) > 0 {
		m.CategoryPath = slices.Clone(candidate.CategoryPath)
	}
	if domain.StringValue(candidate.Brand) != "" {
		m.Brand = domain.Ptr(*candidate.Brand)
	}
	if candidate.Condition.IsValid() {
		m.Condition = candidate.Condition
	}
	if candidate.BidCount != nil {
		m.BidCount = domain.Ptr(*candidate.BidCount)
	}
	if candidate.WatchCount != nil {
		m.WatchCount = domain.Ptr(*candidate.WatchCount)
	}
	if candidate.Status.IsValid() && candidate.Status != domain.StatusUnknown {
		m.Status = candidate.Status
	}

	mergeTarget(&m.Target, candidate.Target)

	if candidate.LastScrapedAt > m.LastScrapedAt {
		m.LastScrapedAt = candidate.LastScrapedAt
	}
	return m
}

func mergeTarget(dst *domain.TargetDraft, src domain.TargetDraft) {
	if domain.StringValue(src.Title) != "" {
		dst.Title = domain.Ptr(*src.Title)
	}
	if src.Price != nil {
		dst.Price = domain.Ptr(*src.Price)
	}
	if domain.StringValue(src.CategoryID) != "" {
		dst.CategoryID = domain.Ptr(*src.CategoryID)
	}
	if src.Quantity != nil {
		dst.Quantity = domain.Ptr(*src.Quantity)
	}
	if src.ShippingCost != nil {
		dst.ShippingCost = domain.Ptr(*src.ShippingCost)
	}
	if src.State.IsValid() {
		dst.State = src.State
	}
}

// FillGaps copies into keeper only the values keeper lacks. Used when
// folding duplicates into the oldest record.
func FillGaps(keeper, other *domain.ListingRecord) *domain.ListingRecord {
	m := keeper.Clone()

	if m.SourceListingID == nil && other.SourceListingID != nil {
		m.SourceListingID = domain.Ptr(*other.SourceListingID)
	}
	if m.PlaceholderTitle && !other.PlaceholderTitle && other.Title != "" {
		m.Title = other.Title
		m.PlaceholderTitle = false
	}
	if m.PriceMinor == nil && other.PriceMinor != nil {
		m.PriceMinor = domain.Ptr(*other.PriceMinor)
		m.PriceNormalized = other.PriceNormalized
		m.ExchangeRate = nil
		if other.ExchangeRate != nil {
			m.ExchangeRate = domain.Ptr(*other.ExchangeRate)
		}
	}
	for _, img := range other.Images {
		if !slices.Contains(m.Images, img) {
			m.Images = append(m.Images, img)
		}
	}
	if m.Description == nil && other.Description != nil {
		m.Description = domain.Ptr(*other.Description)
	}
	if len(m.CategoryPath) == 0 && len(other.CategoryPath) > 0 {
		m.CategoryPath = slices.Clone(other.CategoryPath)
	}
	if m.Brand == nil && other.Brand != nil {
		m.Brand = domain.Ptr(*other.Brand)
	}
	if m.Status == domain.StatusUnknown && other.Status.IsValid() {
		m.Status = other.Status
	}

	t, o := &m.Target, other.Target
	if t.Title == nil && o.Title != nil {
		t.Title = domain.Ptr(*o.Title)
	}
	if t.Price == nil && o.Price != nil {
		t.Price = domain.Ptr(*o.Price)
	}
	if t.CategoryID == nil && o.CategoryID != nil {
		t.CategoryID = domain.Ptr(*o.CategoryID)
	}
	if t.Quantity == nil && o.Quantity != nil {
		t.Quantity = domain.Ptr(*o.Quantity)
	}
	if t.ShippingCost == nil && o.ShippingCost != nil {
		t.ShippingCost = domain.Ptr(*o.ShippingCost)
	}
	if other.LastScrapedAt > m.LastScrapedAt {
		m.LastScrapedAt = other.LastScrapedAt
	}
	return m
}

// ContentEqual compares every user-visible field, ignoring version,
// timestamps and decimal representation.
func ContentEqual(a, b *domain.ListingRecord) bool {
	return a.ID == b.ID &&
		a.SourceURL == b.SourceURL &&
		eqPtr(a.SourceListingID, b.SourceListingID) &&
		a.Platform == b.Platform &&
		a.Title == b.Title &&
		a.PlaceholderTitle == b.PlaceholderTitle &&
		eqPtr(a.PriceMinor, b.PriceMinor) &&
		a.PriceNormalized.Equal(b.PriceNormalized) &&
		eqDecimal(a.ExchangeRate, b.ExchangeRate) &&
		slices.Equal(a.Images, b.Images) &&
		eqPtr(a.Description, b.Description) &&
		slices.Equal(a.CategoryPath, b.CategoryPath) &&
		eqPtr(a.Brand, b.Brand) &&
		a.Condition == b.Condition &&
		domain.IntValue(a.BidCount) == domain.IntValue(b.BidCount) &&
		domain.IntValue(a.WatchCount) == domain.IntValue(b.WatchCount) &&
		a.Status == b.Status &&
		eqPtr(a.Target.Title, b.Target.Title) &&
		eqDecimal(a.Target.Price, b.Target.Price) &&
		eqPtr(a.Target.CategoryID, b.Target.CategoryID) &&
		eqPtr(a.Target.Quantity, b.Target.Quantity) &&
		eqDecimal(a.Target.ShippingCost, b.Target.ShippingCost) &&
		a.Target.State == b.Target.State
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
