// Package reconcile implements the tabular snapshot used for offline bulk
// editing: CSV export with derived pricing columns, CSV import with
// per-row operations, and duplicate merge cleanup.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaVersion is written to every exported row.
const SchemaVersion = "1"

// Column names, in export order.
const (
	ColOperation       = "operation"
	ColRecordID        = "record_id"
	ColSourceURL       = "source_url"
	ColSourceListingID = "source_listing_id"
	ColPlatform        = "platform"
	ColTitle           = "title"
	ColPriceMinor      = "price_minor"
	ColPriceNormalized = "price_normalized"
	ColExchangeRate    = "exchange_rate"
	ColPrimaryImage    = "primary_image"
	ColImages          = "images"
	ColDescription     = "description"
	ColCategoryPath    = "category_path"
	ColBrand           = "brand"
	ColCondition       = "condition"
	ColBidCount        = "bid_count"
	ColWatchCount      = "watch_count"
	ColStatus          = "status"
	ColLastScrapedAt   = "last_scraped_at"

	ColTargetTitle    = "target_title"
	ColTargetPrice    = "target_price"
	ColTargetCategory = "target_category"
	ColTargetQuantity = "target_quantity"
	ColShippingCost   = "shipping_cost"
	ColPublishState   = "publish_state"

	ColCostBasis      = "cost_basis"
	ColPlatformFee    = "platform_fee"
	ColPaymentFee     = "payment_fee"
	ColMargin         = "margin"
	ColMarginPct      = "margin_pct"
	ColROIPct         = "roi_pct"
	ColBreakEvenPrice = "break_even_price"
	ColRiskFlags      = "risk_flags"

	ColCreatedAt     = "created_at"
	ColUpdatedAt     = "updated_at"
	ColExportedAt    = "exported_at"
	ColSchemaVersion = "schema_version"
)

// Columns is the full export header.
var Columns = []string{
	ColOperation, ColRecordID, ColSourceURL, ColSourceListingID, ColPlatform,
	ColTitle, ColPriceMinor, ColPriceNormalized, ColExchangeRate,
	ColPrimaryImage, ColImages, ColDescription, ColCategoryPath, ColBrand,
	ColCondition, ColBidCount, ColWatchCount, ColStatus, ColLastScrapedAt,
	ColTargetTitle, ColTargetPrice, ColTargetCategory, ColTargetQuantity,
	ColShippingCost, ColPublishState,
	ColCostBasis, ColPlatformFee, ColPaymentFee, ColMargin, ColMarginPct,
	ColROIPct, ColBreakEvenPrice, ColRiskFlags,
	ColCreatedAt, ColUpdatedAt, ColExportedAt, ColSchemaVersion,
}

// RequiredColumns must be present in an import header.
var RequiredColumns = []string{ColOperation, ColRecordID, ColSourceURL}

// List separators inside a single cell.
const (
	ImageSeparator    = "|"
	CategorySeparator = " > "
	FlagSeparator     = "|"
)

// ErrImportHeaderInvalid rejects an import before any row is read.
var ErrImportHeaderInvalid = errors.New("import header invalid")

// header maps normalized column names to their index.
type header map[string]int

// parseHeader lowercases and trims names. The first occurrence of a repeated
// column wins; unknown columns are kept but never read.
func parseHeader(names []string) (header, error) {
	h := make(header, len(names))
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := h[n]; !ok {
			h[n] = i
		}
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := h[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns %s", ErrImportHeaderInvalid, strings.Join(missing, ", "))
	}
	return h, nil
}

// values turns a CSV record into column -> value.
func (h header) values(record []string) map[string]string {
	values := make(map[string]string, len(h))
	for name, i := range h {
		if i < len(record) {
			values[name] = record[i]
		}
	}
	return values
}

func splitCell(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
