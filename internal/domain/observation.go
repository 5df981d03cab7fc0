package domain

import "github.com/shopspring/decimal"

// PriceObservation is one point of a listing's scrape history.
// Corresponds to price_observations table in ClickHouse.
type PriceObservation struct {
	ListingID       string
	SourceURL       string
	ObservedAt      int64  // Unix ms
	PriceMinor      *int64 // nullable when no price matched
	PriceNormalized decimal.Decimal
	BidCount        int
	WatchCount      int
	Status          ListingStatus
}

// NewPriceObservation builds an observation from a stored record.
func NewPriceObservation(r *ListingRecord) *PriceObservation {
	return &PriceObservation{
		ListingID:       r.ID,
		SourceURL:       r.SourceURL,
		ObservedAt:      r.LastScrapedAt,
		PriceMinor:      clonePtr(r.PriceMinor),
		PriceNormalized: r.PriceNormalized,
		BidCount:        IntValue(r.BidCount),
		WatchCount:      IntValue(r.WatchCount),
		Status:          r.Status,
	}
}
