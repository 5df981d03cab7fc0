package api

import (
	"github.com/shopspring/decimal"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/reconcile"
)

// ListingView is the JSON form of a stored record with its derived pricing.
type ListingView struct {
	ID               string               `json:"id"`
	SourceURL        string               `json:"source_url"`
	SourceListingID  *string              `json:"source_listing_id,omitempty"`
	Platform         string               `json:"platform"`
	Title            string               `json:"title"`
	PlaceholderTitle bool                 `json:"placeholder_title"`
	PriceMinor       *int64               `json:"price_minor"`
	PriceNormalized  decimal.Decimal      `json:"price_normalized"`
	ExchangeRate     *decimal.Decimal     `json:"exchange_rate,omitempty"`
	Images           []string             `json:"images"`
	Description      *string              `json:"description,omitempty"`
	CategoryPath     []string             `json:"category_path"`
	Brand            *string              `json:"brand,omitempty"`
	Condition        domain.Condition     `json:"condition"`
	BidCount         int                  `json:"bid_count"`
	WatchCount       int                  `json:"watch_count"`
	Status           domain.ListingStatus `json:"status"`
	Target           TargetView           `json:"target"`
	Pricing          PricingView          `json:"pricing"`
	RiskFlags        []string             `json:"risk_flags"`
	LastScrapedAt    int64                `json:"last_scraped_at"`
	Version          int64                `json:"version"`
	CreatedAt        int64                `json:"created_at"`
	UpdatedAt        int64                `json:"updated_at"`
}

// TargetView is the JSON form of the target draft.
type TargetView struct {
	Title        *string             `json:"title,omitempty"`
	Price        *decimal.Decimal    `json:"price,omitempty"`
	CategoryID   *string             `json:"category_id,omitempty"`
	Quantity     *int                `json:"quantity,omitempty"`
	ShippingCost *decimal.Decimal    `json:"shipping_cost,omitempty"`
	State        domain.PublishState `json:"state"`
}

// PricingView mirrors reconcile.Pricing.
type PricingView struct {
	CostBasis   decimal.Decimal  `json:"cost_basis"`
	PlatformFee *decimal.Decimal `json:"platform_fee,omitempty"`
	PaymentFee  *decimal.Decimal `json:"payment_fee,omitempty"`
	Margin      *decimal.Decimal `json:"margin,omitempty"`
	MarginPct   *decimal.Decimal `json:"margin_pct,omitempty"`
	ROIPct      *decimal.Decimal `json:"roi_pct,omitempty"`
	BreakEven   *decimal.Decimal `json:"break_even_price,omitempty"`
}

// ObservationView is one price history point.
type ObservationView struct {
	ObservedAt      int64                `json:"observed_at"`
	PriceMinor      *int64               `json:"price_minor"`
	PriceNormalized decimal.Decimal      `json:"price_normalized"`
	BidCount        int                  `json:"bid_count"`
	WatchCount      int                  `json:"watch_count"`
	Status          domain.ListingStatus `json:"status"`
}

func newListingView(r *domain.ListingRecord, fees reconcile.FeeSchedule) ListingView {
	p := fees.Derive(r)
	flags := fees.RiskFlags(r, p)
	if flags == nil {
		flags = []string{}
	}
	images := r.Images
	if images == nil {
		images = []string{}
	}
	crumbs := r.CategoryPath
	if crumbs == nil {
		crumbs = []string{}
	}
	return ListingView{
		ID:               r.ID,
		SourceURL:        r.SourceURL,
		SourceListingID:  r.SourceListingID,
		Platform:         r.Platform,
		Title:            r.Title,
		PlaceholderTitle: r.PlaceholderTitle,
		PriceMinor:       r.PriceMinor,
		PriceNormalized:  r.PriceNormalized,
		ExchangeRate:     r.ExchangeRate,
		Images:           images,
		Description:      r.Description,
		CategoryPath:     crumbs,
		Brand:            r.Brand,
		Condition:        r.Condition,
		BidCount:         domain.IntValue(r.BidCount),
		WatchCount:       domain.IntValue(r.WatchCount),
		Status:           r.Status,
		Target: TargetView{
			Title:        r.Target.Title,
			Price:        r.Target.Price,
			CategoryID:   r.Target.CategoryID,
			Quantity:     r.Target.Quantity,
			ShippingCost: r.Target.ShippingCost,
			State:        r.Target.State,
		},
		Pricing: PricingView{
			CostBasis:   p.CostBasis,
			PlatformFee: p.PlatformFee,
			PaymentFee:  p.PaymentFee,
			Margin:      p.Margin,
			MarginPct:   p.MarginPct,
			ROIPct:      p.ROIPct,
			BreakEven:   p.BreakEven,
		},
		RiskFlags:     flags,
		LastScrapedAt: r.LastScrapedAt,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func newObservationView(o *domain.PriceObservation) ObservationView {
	return ObservationView{
		ObservedAt:      o.ObservedAt,
		PriceMinor:      o.PriceMinor,
		PriceNormalized: o.PriceNormalized,
		BidCount:        o.BidCount,
		WatchCount:      o.WatchCount,
		Status:          o.Status,
	}
}
