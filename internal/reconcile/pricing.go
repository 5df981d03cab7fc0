package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/textnorm"
)

// Risk flags reported in the risk_flags column.
const (
	FlagNoPrice           = "NO_PRICE"
	FlagNoImages          = "NO_IMAGES"
	FlagPlaceholderTitle  = "PLACEHOLDER_TITLE"
	FlagEnded             = "ENDED"
	FlagLowMargin         = "LOW_MARGIN"
	FlagRestrictedKeyword = "RESTRICTED_KEYWORD"
)

var hundred = decimal.NewFromInt(100)

// FeeSchedule holds the target platform fees used for derived columns.
type FeeSchedule struct {
	PlatformRate       decimal.Decimal // share of the sale price
	PaymentRate        decimal.Decimal // share of the sale price
	FixedFee           decimal.Decimal // per sale
	LowMarginPct       decimal.Decimal // margin_pct below this is flagged
	RestrictedKeywords []string        // case-insensitive title/description terms
}

// DefaultFeeSchedule returns the fees used when none are configured.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		PlatformRate: decimal.RequireFromString("0.13"),
		PaymentRate:  decimal.RequireFromString("0.03"),
		FixedFee:     decimal.RequireFromString("0.30"),
		LowMarginPct: decimal.NewFromInt(15),
	}
}

// Pricing is the derived financial view of one record. Fields that need a
// target price are nil when the draft has none.
type Pricing struct {
	CostBasis   decimal.Decimal
	PlatformFee *decimal.Decimal
	PaymentFee  *decimal.Decimal
	Margin      *decimal.Decimal
	MarginPct   *decimal.Decimal
	ROIPct      *decimal.Decimal
	BreakEven   *decimal.Decimal
}

// Derive computes pricing from the stored record. Results are rounded
// half-up to 2 places.
func (f FeeSchedule) Derive(r *domain.ListingRecord) Pricing {
	cost := r.PriceNormalized
	if r.Target.ShippingCost != nil {
		cost = cost.Add(*r.Target.ShippingCost)
	}
	p := Pricing{CostBasis: cost.Round(2)}

	keep := decimal.NewFromInt(1).Sub(f.PlatformRate).Sub(f.PaymentRate)
	if keep.IsPositive() {
		be := cost.Add(f.FixedFee).DivRound(keep, 2)
		p.BreakEven = &be
	}

	if r.Target.Price == nil {
		return p
	}
	sale := *r.Target.Price
	platformFee := sale.Mul(f.PlatformRate).Round(2)
	paymentFee := sale.Mul(f.PaymentRate).Add(f.FixedFee).Round(2)
	margin := sale.Sub(cost).Sub(platformFee).Sub(paymentFee).Round(2)
	p.PlatformFee = &platformFee
	p.PaymentFee = &paymentFee
	p.Margin = &margin

	if sale.IsPositive() {
		pct := margin.Mul(hundred).DivRound(sale, 2)
		p.MarginPct = &pct
	}
	if cost.IsPositive() {
		roi := margin.Mul(hundred).DivRound(cost, 2)
		p.ROIPct = &roi
	}
	return p
}

// RiskFlags lists compliance and quality concerns in a fixed order.
func (f FeeSchedule) RiskFlags(r *domain.ListingRecord, p Pricing) []string {
	var flags []string
	if r.PriceMinor == nil {
		flags = append(flags, FlagNoPrice)
	}
	if len(r.Images) == 0 {
		flags = append(flags, FlagNoImages)
	}
	if r.PlaceholderTitle {
		flags = append(flags, FlagPlaceholderTitle)
	}
	if r.Status == domain.StatusEnded {
		flags = append(flags, FlagEnded)
	}
	if p.MarginPct != nil && p.MarginPct.LessThan(f.LowMarginPct) {
		flags = append(flags, FlagLowMargin)
	}
	if f.restricted(r) {
		flags = append(flags, FlagRestrictedKeyword)
	}
	return flags
}

func (f FeeSchedule) restricted(r *domain.ListingRecord) bool {
	if len(f.RestrictedKeywords) == 0 {
		return false
	}
	text := textnorm.TitleKey(r.Title + " " + domain.StringValue(r.Description) + " " + domain.StringValue(r.Target.Title))
	for _, kw := range f.RestrictedKeywords {
		if kw = textnorm.TitleKey(kw); kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
