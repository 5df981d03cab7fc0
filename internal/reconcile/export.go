package reconcile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
)

// Export writes one row per record matching filter, every row marked KEEP.
// Derived columns are recomputed from the stored record on each export.
func (r *Reconciler) Export(ctx context.Context, filter storage.ListingFilter, w io.Writer) (int, error) {
	records, err := r.store.List(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list listings: %w", err)
	}

	exportedAt := formatMillis(r.now().UnixMilli())
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(r.Row(rec, exportedAt)); err != nil {
			return 0, fmt.Errorf("write row %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}

	r.metrics.RecordExport(len(records))
	r.log.WithFields(logrus.Fields{"rows": len(records)}).Info("Export completed")
	return len(records), nil
}

// Row renders rec in Columns order.
func (r *Reconciler) Row(rec *domain.ListingRecord, exportedAt string) []string {
	p := r.fees.Derive(rec)
	flags := r.fees.RiskFlags(rec, p)

	v := map[string]string{
		ColOperation:       string(domain.OpKeep),
		ColRecordID:        rec.ID,
		ColSourceURL:       rec.SourceURL,
		ColSourceListingID: domain.StringValue(rec.SourceListingID),
		ColPlatform:        rec.Platform,
		ColTitle:           rec.Title,
		ColPriceNormalized: rec.PriceNormalized.StringFixed(2),
		ColExchangeRate:    decString(rec.ExchangeRate, -1),
		ColPrimaryImage:    rec.PrimaryImage(),
		ColImages:          strings.Join(rec.Images, ImageSeparator),
		ColDescription:     domain.StringValue(rec.Description),
		ColCategoryPath:    strings.Join(rec.CategoryPath, CategorySeparator),
		ColBrand:           domain.StringValue(rec.Brand),
		ColCondition:       string(rec.Condition),
		ColBidCount:        strconv.Itoa(domain.IntValue(rec.BidCount)),
		ColWatchCount:      strconv.Itoa(domain.IntValue(rec.WatchCount)),
		ColStatus:          string(rec.Status),
		ColLastScrapedAt:   formatMillis(rec.LastScrapedAt),

		ColTargetTitle:    domain.StringValue(rec.Target.Title),
		ColTargetPrice:    decString(rec.Target.Price, 2),
		ColTargetCategory: domain.StringValue(rec.Target.CategoryID),
		ColShippingCost:   decString(rec.Target.ShippingCost, 2),
		ColPublishState:   string(rec.Target.State),

		ColCostBasis:      p.CostBasis.StringFixed(2),
		ColPlatformFee:    decString(p.PlatformFee, 2),
		ColPaymentFee:     decString(p.PaymentFee, 2),
		ColMargin:         decString(p.Margin, 2),
		ColMarginPct:      decString(p.MarginPct, 2),
		ColROIPct:         decString(p.ROIPct, 2),
		ColBreakEvenPrice: decString(p.BreakEven, 2),
		ColRiskFlags:      strings.Join(flags, FlagSeparator),

		ColCreatedAt:     formatMillis(rec.CreatedAt),
		ColUpdatedAt:     formatMillis(rec.UpdatedAt),
		ColExportedAt:    exportedAt,
		ColSchemaVersion: SchemaVersion,
	}
	if rec.PriceMinor != nil {
		v[ColPriceMinor] = strconv.FormatInt(*rec.PriceMinor, 10)
	}
	if rec.Target.Quantity != nil {
		v[ColTargetQuantity] = strconv.Itoa(*rec.Target.Quantity)
	}

	row := make([]string, len(Columns))
	for i, c := range Columns {
		row[i] = v[c]
	}
	return row
}

// decString formats d with places decimals, or as-is when places < 0.
func decString(d *decimal.Decimal, places int32) string {
	if d == nil {
		return ""
	}
	if places < 0 {
		return d.String()
	}
	return d.StringFixed(places)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
