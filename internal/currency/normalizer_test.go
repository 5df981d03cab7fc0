package currency

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-ingest/internal/domain"
)

func TestConvert(t *testing.T) {
	n, err := NewNormalizer(DefaultRate, DefaultNominalMin)
	require.NoError(t, err)

	tests := []struct {
		minor int64
		want  string
	}{
		{1500, "10.00"},
		{100, "0.67"},  // 0.6666 rounds up
		{151, "1.01"},  // 1.00666
		{225, "1.50"},  // 1.5 exactly
		{1, "0.01"},    // 0.00666 rounds to 0.01
		{0, "1.00"},    // nominal minimum, never zero
		{-300, "1.00"}, // never negative
	}
	for _, tt := range tests {
		got := n.Convert(tt.minor)
		assert.Equal(t, tt.want, got.StringFixed(2), "Convert(%d)", tt.minor)
	}
}

func TestConvert_Deterministic(t *testing.T) {
	n, err := NewNormalizer(decimal.NewFromInt(150), DefaultNominalMin)
	require.NoError(t, err)

	got := n.Convert(1500)
	assert.True(t, got.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, int32(-2), got.Exponent())
}

func TestNewNormalizer_InvalidRate(t *testing.T) {
	_, err := NewNormalizer(decimal.Zero, DefaultNominalMin)
	assert.True(t, errors.Is(err, ErrInvalidRate))

	_, err = NewNormalizer(decimal.NewFromInt(-1), DefaultNominalMin)
	assert.True(t, errors.Is(err, ErrInvalidRate))

	_, err = NewNormalizer(DefaultRate, decimal.Zero)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	n, err := NewNormalizer(DefaultRate, DefaultNominalMin)
	require.NoError(t, err)

	r := &domain.ListingRecord{PriceMinor: domain.Ptr(int64(3000))}
	n.Apply(r)
	assert.Equal(t, "20.00", r.PriceNormalized.StringFixed(2))
	require.NotNil(t, r.ExchangeRate)
	assert.True(t, r.ExchangeRate.Equal(DefaultRate))
	assert.Equal(t, int64(3000), *r.PriceMinor, "source price is kept")

	noPrice := &domain.ListingRecord{}
	n.Apply(noPrice)
	assert.Equal(t, "1.00", noPrice.PriceNormalized.StringFixed(2))
	assert.Nil(t, noPrice.ExchangeRate)
}
