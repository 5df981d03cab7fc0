package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-ingest/internal/domain"
)

func TestObservationStore_AppendAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewObservationStore(conn)
	ctx := context.Background()

	points := []*domain.PriceObservation{
		{ListingID: "L1", SourceURL: "https://example.com/1", ObservedAt: 2000, PriceMinor: domain.Ptr(int64(3000)), PriceNormalized: decimal.RequireFromString("20.00"), BidCount: 4, Status: domain.StatusActive},
		{ListingID: "L1", SourceURL: "https://example.com/1", ObservedAt: 1000, PriceMinor: domain.Ptr(int64(1500)), PriceNormalized: decimal.RequireFromString("10.00"), BidCount: 1, Status: domain.StatusActive},
		{ListingID: "L1", SourceURL: "https://example.com/1", ObservedAt: 3000, PriceNormalized: decimal.RequireFromString("1.00"), Status: domain.StatusEnded},
	}
	for _, p := range points {
		require.NoError(t, store.Append(ctx, p))
	}
	// re-append is ignored
	require.NoError(t, store.Append(ctx, points[0]))

	got, err := store.GetByListingID(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(1000), got[0].ObservedAt)
	assert.Equal(t, "10.00", got[0].PriceNormalized.StringFixed(2))
	require.NotNil(t, got[0].PriceMinor)
	assert.Equal(t, int64(1500), *got[0].PriceMinor)
	assert.Nil(t, got[2].PriceMinor)
	assert.Equal(t, domain.StatusEnded, got[2].Status)
}
