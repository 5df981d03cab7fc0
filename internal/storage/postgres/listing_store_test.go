package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
)

func newListing(id, url, title string) *domain.ListingRecord {
	rate := decimal.NewFromInt(150)
	return &domain.ListingRecord{
		ID:              id,
		SourceURL:       url,
		Platform:        "Yahoo Auctions",
		Title:           title,
		PriceMinor:      domain.Ptr(int64(1500)),
		PriceNormalized: decimal.RequireFromString("10.00"),
		ExchangeRate:    &rate,
		Images:          []string{"https://img.example.com/a.jpg", "https://img.example.com/b.jpg"},
		CategoryPath:    []string{"Watches", "Wristwatches"},
		Condition:       domain.ConditionUsed,
		BidCount:        domain.Ptr(3),
		WatchCount:      domain.Ptr(7),
		Status:          domain.StatusActive,
		Target:          domain.TargetDraft{State: domain.PublishDraft},
		LastScrapedAt:   1704067200000,
		CreatedAt:       1704067200000,
		UpdatedAt:       1704067200000,
	}
}

func TestListingStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	r := newListing("20240101-abc", "https://example.com/auction/x1", "Vintage Seiko automatic watch 1970s")
	r.SourceListingID = domain.Ptr("x1")
	r.Brand = domain.Ptr("Seiko")
	shipping := decimal.RequireFromString("12.50")
	r.Target.ShippingCost = &shipping

	require.NoError(t, store.Insert(ctx, r))
	assert.Equal(t, int64(1), r.Version)

	got, err := store.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Title, got.Title)
	assert.Equal(t, "10.00", got.PriceNormalized.StringFixed(2))
	require.NotNil(t, got.ExchangeRate)
	assert.True(t, got.ExchangeRate.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, r.Images, got.Images)
	assert.Equal(t, r.CategoryPath, got.CategoryPath)
	assert.Equal(t, "Seiko", domain.StringValue(got.Brand))
	assert.Equal(t, 3, domain.IntValue(got.BidCount))
	require.NotNil(t, got.Target.ShippingCost)
	assert.Equal(t, "12.50", got.Target.ShippingCost.StringFixed(2))
	assert.Nil(t, got.Description)
	assert.Equal(t, domain.PublishDraft, got.Target.State)

	byURL, err := store.GetByURL(ctx, r.SourceURL)
	require.NoError(t, err)
	assert.Equal(t, r.ID, byURL.ID)

	bySrc, err := store.GetBySourceListingID(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, bySrc.ID)
}

func TestListingStore_DuplicateAndNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newListing("a", "https://example.com/1", "first title")))

	err := store.Insert(ctx, newListing("b", "https://example.com/1", "same url"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "missing"), storage.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.GetByURL(ctx, "https://example.com/1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListingStore_UpdateVersionConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	r := newListing("a", "https://example.com/1", "original title text")
	require.NoError(t, store.Insert(ctx, r))

	upd := r.Clone()
	upd.Title = "updated title text"
	upd.Brand = domain.Ptr("Acme")
	require.NoError(t, store.Update(ctx, upd, 1))
	assert.Equal(t, int64(2), upd.Version)

	stale := r.Clone()
	assert.ErrorIs(t, store.Update(ctx, stale, 1), storage.ErrVersionConflict)

	got, err := store.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated title text", got.Title)
	assert.Equal(t, int64(2), got.Version)

	assert.ErrorIs(t, store.Update(ctx, newListing("zzz", "https://example.com/z", "x"), 1), storage.ErrNotFound)
}

func TestListingStore_ConcurrentConditionalUpdate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	r := newListing("a", "https://example.com/1", "original title text")
	require.NoError(t, store.Insert(ctx, r))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Update(ctx, r.Clone(), 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestListingStore_FindByTitlePrefix(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newListing("a", "https://example.com/1", "ABCDEFGHIJKLMNOPQRSTUVWXYZ1234 more")))
	require.NoError(t, store.Insert(ctx, newListing("b", "https://example.com/2", "AB")))
	placeholder := newListing("c", "https://example.com/3", "abcdefghijklmnopqrstuvwxyz1234 item")
	placeholder.PlaceholderTitle = true
	require.NoError(t, store.Insert(ctx, placeholder))

	got, err := store.FindByTitlePrefix(ctx, "abcdefghijklmnopqrstuvwxyz1234", 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	got, err = store.FindByTitlePrefix(ctx, "ab", 20)
	require.NoError(t, err)
	for _, r := range got {
		assert.NotEqual(t, "b", r.ID)
	}
}

func TestListingStore_ListFilter(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	active := newListing("b", "https://example.com/1", "active listing")
	ended := newListing("a", "https://example.com/2", "ended listing")
	ended.Status = domain.StatusEnded
	ended.UpdatedAt = 1704153600000
	require.NoError(t, store.Insert(ctx, active))
	require.NoError(t, store.Insert(ctx, ended))

	all, err := store.List(ctx, storage.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	got, err := store.List(ctx, storage.ListingFilter{Statuses: []domain.ListingStatus{domain.StatusActive}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	got, err = store.List(ctx, storage.ListingFilter{UpdatedSince: 1704153600000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
