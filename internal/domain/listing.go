package domain

import "github.com/shopspring/decimal"

// ListingRecord is a single auction listing extracted from a source page.
// Corresponds to the listings table in PostgreSQL.
//
// Pointer fields are optional: nil means "not extracted" and never
// overwrites a previously stored value on update.
type ListingRecord struct {
	ID               string  // PRIMARY KEY, see idhash.ComputeListingID
	SourceURL        string  // origin page, required
	SourceListingID  *string // platform-native identifier (nullable)
	Platform         string  // source marketplace display name
	Title            string  // human-readable name
	PlaceholderTitle bool    // title was synthesized, not extracted

	PriceMinor      *int64           // source currency, whole units (nullable)
	PriceNormalized decimal.Decimal  // working currency, 2 dp
	ExchangeRate    *decimal.Decimal // rate used for PriceNormalized (nullable when no price)

	Images       []string  // unique URLs, first is primary
	Description  *string   // nullable
	CategoryPath []string  // breadcrumb, empty when unavailable
	Brand        *string   // nullable
	Condition    Condition // New | Used
	BidCount     *int      // nullable on extraction, 0 once stored
	WatchCount   *int      // nullable on extraction, 0 once stored
	Status       ListingStatus

	Target TargetDraft // operator-edited target platform fields

	LastScrapedAt int64 // Unix ms of the last successful extraction
	Version       int64 // optimistic concurrency counter
	CreatedAt     int64 // record creation timestamp (ms)
	UpdatedAt     int64 // last mutation timestamp (ms)
}

// TargetDraft holds the target platform listing draft edited through CSV import.
type TargetDraft struct {
	Title        *string
	Price        *decimal.Decimal
	CategoryID   *string
	Quantity     *int
	ShippingCost *decimal.Decimal
	State        PublishState
}

// PrimaryImage returns the first image URL or "".
func (r *ListingRecord) PrimaryImage() string {
	if len(r.Images) == 0 {
		return ""
	}
	return r.Images[0]
}

// Clone returns a deep copy of the record.
func (r *ListingRecord) Clone() *ListingRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.SourceListingID = clonePtr(r.SourceListingID)
	c.PriceMinor = clonePtr(r.PriceMinor)
	c.ExchangeRate = clonePtr(r.ExchangeRate)
	c.Description = clonePtr(r.Description)
	c.Brand = clonePtr(r.Brand)
	c.BidCount = clonePtr(r.BidCount)
	c.WatchCount = clonePtr(r.WatchCount)
	c.Target.Title = clonePtr(r.Target.Title)
	c.Target.Price = clonePtr(r.Target.Price)
	c.Target.CategoryID = clonePtr(r.Target.CategoryID)
	c.Target.Quantity = clonePtr(r.Target.Quantity)
	c.Target.ShippingCost = clonePtr(r.Target.ShippingCost)
	if r.Images != nil {
		c.Images = append([]string(nil), r.Images...)
	}
	if r.CategoryPath != nil {
		c.CategoryPath = append([]string(nil), r.CategoryPath...)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// IntValue returns *p or 0.
func IntValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// StringValue returns *p or "".
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
