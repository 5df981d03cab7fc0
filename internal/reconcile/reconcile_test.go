package reconcile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/storage/memory"
)

var exportTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, maxErrors int) (*Reconciler, *memory.ListingStore) {
	t.Helper()
	store := memory.NewListingStore()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	r, err := New(Options{
		Store:     store,
		MaxErrors: maxErrors,
		Metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
		Logger:    logger,
		Now:       func() time.Time { return exportTime },
	})
	require.NoError(t, err)
	return r, store
}

func seed(t *testing.T, store *memory.ListingStore, recs ...*domain.ListingRecord) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, store.Insert(context.Background(), rec))
	}
}

func sampleRecord(id, url, title string) *domain.ListingRecord {
	return &domain.ListingRecord{
		ID:              id,
		SourceURL:       url,
		SourceListingID: domain.Ptr("src-" + id),
		Platform:        "Example",
		Title:           title,
		PriceMinor:      domain.Ptr(int64(1500)),
		PriceNormalized: decimal.RequireFromString("10.00"),
		ExchangeRate:    dec("150"),
		Images:          []string{"https://img.example.com/" + id + "-1.jpg", "https://img.example.com/" + id + "-2.jpg"},
		Description:     domain.Ptr("Line one.\nLine \"two\", with comma"),
		CategoryPath:    []string{"Watches", "Wristwatches"},
		Brand:           domain.Ptr("Seiko"),
		Condition:       domain.ConditionUsed,
		BidCount:        domain.Ptr(3),
		WatchCount:      domain.Ptr(12),
		Status:          domain.StatusActive,
		Target: domain.TargetDraft{
			Title:    domain.Ptr("Seiko 5 automatic, serviced"),
			Price:    dec("49.99"),
			Quantity: domain.Ptr(1),
			State:    domain.PublishDraft,
		},
		LastScrapedAt: 1704067200000,
		CreatedAt:     1704067200000,
		UpdatedAt:     1704067200000,
	}
}

func exportCSV(t *testing.T, r *Reconciler) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := r.Export(context.Background(), storage.ListingFilter{}, &buf)
	require.NoError(t, err)
	return buf.String()
}

func readCSV(t *testing.T, s string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	require.NoError(t, err)
	return rows
}

func colIndex(name string) int {
	for i, c := range Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func TestExport_Rows(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store,
		sampleRecord("20240101-a", "https://auctions.example.com/item/1001", `Seiko "5", automatic`),
		sampleRecord("20240101-b", "https://auctions.example.com/item/1002", "Casio G-Shock DW-5600 square"),
	)

	rows := readCSV(t, exportCSV(t, r))
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])

	first := rows[1]
	assert.Equal(t, "KEEP", first[colIndex(ColOperation)])
	assert.Equal(t, "20240101-a", first[colIndex(ColRecordID)])
	assert.Equal(t, `Seiko "5", automatic`, first[colIndex(ColTitle)])
	assert.Equal(t, "Line one.\nLine \"two\", with comma", first[colIndex(ColDescription)])
	assert.Equal(t, "Watches > Wristwatches", first[colIndex(ColCategoryPath)])
	assert.Equal(t, "https://img.example.com/20240101-a-1.jpg", first[colIndex(ColPrimaryImage)])
	assert.Equal(t, "10.00", first[colIndex(ColPriceNormalized)])
	assert.Equal(t, "49.99", first[colIndex(ColTargetPrice)])
	assert.Equal(t, "10.00", first[colIndex(ColCostBasis)])
	assert.NotEmpty(t, first[colIndex(ColMargin)])
	assert.Equal(t, "2024-03-01T12:00:00Z", first[colIndex(ColExportedAt)])
	assert.Equal(t, SchemaVersion, first[colIndex(ColSchemaVersion)])
}

func TestExport_DerivedColumnsIgnoreImportedValues(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store, sampleRecord("20240101-a", "https://auctions.example.com/item/1001", "Seiko 5 automatic watch 1970s"))

	rows := readCSV(t, exportCSV(t, r))
	rows[1][colIndex(ColOperation)] = "UPDATE"
	rows[1][colIndex(ColMargin)] = "999.99"
	rows[1][colIndex(ColCostBasis)] = "0.01"

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.WriteAll(rows))

	summary, err := r.Import(context.Background(), &buf)
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 0, summary.Updated)

	again := readCSV(t, exportCSV(t, r))
	assert.Equal(t, "10.00", again[1][colIndex(ColCostBasis)])
	assert.NotEqual(t, "999.99", again[1][colIndex(ColMargin)])
}

func TestImport_KeepRoundTrip(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store,
		sampleRecord("20240101-a", "https://auctions.example.com/item/1001", `Seiko "5", automatic`),
		sampleRecord("20240101-b", "https://auctions.example.com/item/1002", "Casio G-Shock DW-5600 square"),
		sampleRecord("20240101-c", "https://auctions.example.com/item/1003", "Citizen Eco-Drive chronograph"),
	)
	before, err := store.List(context.Background(), storage.ListingFilter{})
	require.NoError(t, err)

	summary, err := r.Import(context.Background(), strings.NewReader(exportCSV(t, r)))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 3, summary.Skipped)
	assert.Empty(t, summary.Errors)

	after, err := store.List(context.Background(), storage.ListingFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestImport_UpdateRoundTripChangesNothing(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store, sampleRecord("20240101-a", "https://auctions.example.com/item/1001", `Seiko "5", automatic`))

	exported := strings.Replace(exportCSV(t, r), "\nKEEP,", "\nUPDATE,", 1)
	summary, err := r.Import(context.Background(), strings.NewReader(exported))
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 1, summary.Skipped)

	rec, err := store.GetByID(context.Background(), "20240101-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
}

func TestImport_HeaderInvalid(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store, sampleRecord("20240101-a", "https://auctions.example.com/item/1001", "Seiko 5 automatic watch 1970s"))

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "missing operation", input: "record_id,source_url\n20240101-a,https://auctions.example.com/item/1001\n"},
		{name: "missing record_id", input: "operation,source_url\nDELETE,https://auctions.example.com/item/1001\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := r.Import(context.Background(), strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrImportHeaderInvalid))
			assert.Nil(t, summary)
		})
	}

	_, err := store.GetByID(context.Background(), "20240101-a")
	assert.NoError(t, err, "rejected import must not touch storage")
}

func TestImport_BOMAndHeaderCase(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store, sampleRecord("20240101-a", "https://auctions.example.com/item/1001", "Seiko 5 automatic watch 1970s"))

	input := "\xEF\xBB\xBF Operation ,RECORD_ID,Source_URL,Target_Price,unknown_col\n" +
		"update,20240101-a,,59.5,ignored\n"
	summary, err := r.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 1, summary.Updated)

	rec, err := store.GetByID(context.Background(), "20240101-a")
	require.NoError(t, err)
	assert.Equal(t, "59.50", rec.Target.Price.StringFixed(2))
	assert.Equal(t, "Seiko", domain.StringValue(rec.Brand), "absent columns keep stored values")
}

func TestImport_Operations(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store,
		sampleRecord("20240101-a", "https://auctions.example.com/item/1001", "Seiko 5 automatic watch 1970s"),
		sampleRecord("20240101-b", "https://auctions.example.com/item/1002", "Casio G-Shock DW-5600 square"),
		sampleRecord("20240101-c", "https://auctions.example.com/item/1003", "Citizen Eco-Drive chronograph"),
	)

	input := strings.Join([]string{
		"operation,record_id,source_url,title,brand,target_price,shipping_cost,publish_state",
		"PREPARE,20240101-a,,,,55.00,4.50,",
		"PUBLISH,20240101-b,,,,,,",
		"DELETE,20240101-c,,,,,,",
		"UPDATE,,https://auctions.example.com/item/2001,Omega Seamaster 300 vintage diver,Omega,,,",
		"KEEP,20240101-a,,,,,,",
	}, "\n") + "\n"

	summary, err := r.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, summary.Errors)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.Skipped)

	ctx := context.Background()
	a, err := store.GetByID(ctx, "20240101-a")
	require.NoError(t, err)
	assert.Equal(t, domain.PublishPrepared, a.Target.State)
	assert.Equal(t, "55.00", a.Target.Price.StringFixed(2))
	assert.Equal(t, "4.50", a.Target.ShippingCost.StringFixed(2))

	b, err := store.GetByID(ctx, "20240101-b")
	require.NoError(t, err)
	assert.Equal(t, domain.PublishPublished, b.Target.State)

	_, err = store.GetByID(ctx, "20240101-c")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	inserted, err := store.GetByURL(ctx, "https://auctions.example.com/item/2001")
	require.NoError(t, err)
	assert.Equal(t, "Omega Seamaster 300 vintage diver", inserted.Title)
	assert.Equal(t, "Omega", domain.StringValue(inserted.Brand))
	assert.Equal(t, "1.00", inserted.PriceNormalized.StringFixed(2))
	assert.Equal(t, domain.PublishDraft, inserted.Target.State)
}

func TestImport_RowErrorsIsolated(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store, sampleRecord("20240101-a", "https://auctions.example.com/item/1001", "Seiko 5 automatic watch 1970s"))

	input := strings.Join([]string{
		"operation,record_id,source_url,target_price,condition",
		"FROBNICATE,20240101-a,,,",
		"UPDATE,20240101-a,,not-a-price,",
		"UPDATE,20240101-zz,,10,",
		"DELETE,,,,",
		"UPDATE,20240101-a,,,broken",
		"UPDATE,20240101-a,,25,new",
	}, "\n") + "\n"

	summary, err := r.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Rows)
	assert.Equal(t, 1, summary.Updated)
	require.Len(t, summary.Errors, 5)

	lines := make([]int, len(summary.Errors))
	for i, e := range summary.Errors {
		lines[i] = e.Line
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6}, lines)
	assert.ErrorIs(t, summary.Errors[2], storage.ErrNotFound)

	rec, err := store.GetByID(context.Background(), "20240101-a")
	require.NoError(t, err)
	assert.Equal(t, "25.00", rec.Target.Price.StringFixed(2))
	assert.Equal(t, domain.ConditionNew, rec.Condition)
}

func TestImport_BlankOperationIsRowError(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	seed(t, store, sampleRecord("20240101-a", "https://auctions.example.com/item/1001", "Seiko 5 automatic watch 1970s"))

	input := "operation,record_id,source_url,target_price\n" +
		",20240101-a,,30\n" +
		"KEEP,20240101-a,,40\n"

	summary, err := r.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Updated)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 2, summary.Errors[0].Line)
	assert.Contains(t, summary.Errors[0].Message, "operation required")

	rec, err := store.GetByID(context.Background(), "20240101-a")
	require.NoError(t, err)
	require.NotNil(t, rec.Target.Price)
	assert.Equal(t, "49.99", rec.Target.Price.StringFixed(2))
}

func TestImport_ErrorCeiling(t *testing.T) {
	r, _ := newTestReconciler(t, 2)

	var b strings.Builder
	b.WriteString("operation,record_id,source_url\n")
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "DELETE,missing-%d,\n", i)
	}

	summary, err := r.Import(context.Background(), strings.NewReader(b.String()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyErrors)
	require.NotNil(t, summary)
	assert.Len(t, summary.Errors, 3)
	assert.Equal(t, 3, summary.Rows)
}

func TestDuplicates_FindAndMerge(t *testing.T) {
	r, store := newTestReconciler(t, 0)
	ctx := context.Background()

	older := sampleRecord("20240101-a", "https://auctions.example.com/item/1001", "Seiko 5 automatic watch 1970s")
	older.Brand = nil
	older.Images = nil
	newer := sampleRecord("20240102-b", "https://auctions.example.com/item/1001?ref=x", "Seiko 5 automatic watch 1970s")
	newer.SourceListingID = older.SourceListingID
	newer.CreatedAt = older.CreatedAt + 1000
	other := sampleRecord("20240103-c", "https://auctions.example.com/item/3003", "Completely different camera lens")
	seed(t, store, older, newer, other)

	report, err := r.FindDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, "identifier", report.Pairs[0].Tier)
	assert.Equal(t, [][]string{{"20240101-a", "20240102-b"}}, report.Groups)

	summary, err := r.MergeDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Groups)
	assert.Equal(t, []string{"20240101-a"}, summary.Kept)
	assert.Equal(t, []string{"20240102-b"}, summary.Deleted)
	assert.Empty(t, summary.Errors)

	kept, err := store.GetByID(ctx, "20240101-a")
	require.NoError(t, err)
	assert.Equal(t, "Seiko", domain.StringValue(kept.Brand))
	assert.Len(t, kept.Images, 2)
	assert.Equal(t, "https://auctions.example.com/item/1001", kept.SourceURL)

	_, err = store.GetByID(ctx, "20240102-b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := store.List(ctx, storage.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
