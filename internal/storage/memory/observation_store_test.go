package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"auction-ingest/internal/domain"
)

func TestObservationStore_AppendAndGet(t *testing.T) {
	store := NewObservationStore()
	ctx := context.Background()

	for _, ts := range []int64{3000, 1000, 2000, 1000} {
		o := &domain.PriceObservation{
			ListingID:       "a",
			ObservedAt:      ts,
			PriceMinor:      domain.Ptr(int64(1500)),
			PriceNormalized: decimal.RequireFromString("10.00"),
			Status:          domain.StatusActive,
		}
		if err := store.Append(ctx, o); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.GetByListingID(ctx, "a")
	if err != nil {
		t.Fatalf("GetByListingID failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 observations (duplicate ignored), got %d", len(got))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if got[i].ObservedAt != want {
			t.Errorf("observation %d: got %d, want %d", i, got[i].ObservedAt, want)
		}
	}

	empty, err := store.GetByListingID(ctx, "missing")
	if err != nil || len(empty) != 0 {
		t.Errorf("missing listing: got %d, %v", len(empty), err)
	}
}
