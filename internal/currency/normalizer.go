// Package currency converts source-currency prices into the working currency.
package currency

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"auction-ingest/internal/domain"
)

// Defaults used when configuration leaves them unset.
var (
	DefaultRate       = decimal.NewFromInt(150)
	DefaultNominalMin = decimal.RequireFromString("1.00")
)

// ErrInvalidRate is returned for non-positive rates.
var ErrInvalidRate = errors.New("exchange rate must be positive")

// Places is the working-currency precision.
const Places = 2

// Normalizer divides source prices by a fixed rate (source units per
// working unit) and rounds half-up to two decimal places.
type Normalizer struct {
	rate       decimal.Decimal
	nominalMin decimal.Decimal
}

// NewNormalizer validates rate and nominalMin.
func NewNormalizer(rate, nominalMin decimal.Decimal) (*Normalizer, error) {
	if !rate.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	if !nominalMin.IsPositive() {
		return nil, fmt.Errorf("nominal minimum must be positive: %s", nominalMin)
	}
	return &Normalizer{rate: rate, nominalMin: nominalMin.Round(Places)}, nil
}

// Rate returns the configured rate.
func (n *Normalizer) Rate() decimal.Decimal {
	return n.rate
}

// NominalMin returns the price used when no source price is known.
func (n *Normalizer) NominalMin() decimal.Decimal {
	return n.nominalMin
}

// Convert returns priceMinor / rate. Results that round to zero or below
// are raised to the nominal minimum.
func (n *Normalizer) Convert(priceMinor int64) decimal.Decimal {
	v := decimal.NewFromInt(priceMinor).DivRound(n.rate, Places)
	if !v.IsPositive() {
		return n.nominalMin
	}
	return v
}

// Apply sets PriceNormalized and ExchangeRate on r. Without a source price
// the nominal minimum is used and no rate is recorded.
func (n *Normalizer) Apply(r *domain.ListingRecord) {
	if r.PriceMinor == nil {
		r.PriceNormalized = n.nominalMin
		r.ExchangeRate = nil
		return
	}
	r.PriceNormalized = n.Convert(*r.PriceMinor)
	rate := n.rate
	r.ExchangeRate = &rate
}
