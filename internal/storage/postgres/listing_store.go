package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/textnorm"
)

// ListingStore implements storage.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *Pool
}

// NewListingStore creates a new ListingStore.
func NewListingStore(pool *Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ListingStore = (*ListingStore)(nil)

const listingColumns = `
	listing_id, source_url, source_listing_id, platform, title, placeholder_title,
	price_minor, price_normalized::text, exchange_rate::text,
	images, description, category_path, brand, condition, bid_count, watch_count, status,
	target_title, target_price::text, target_category, target_quantity, shipping_cost::text, publish_state,
	last_scraped_at, version, created_at, updated_at`

// Insert adds a new record. Returns ErrDuplicateKey if listing_id or source_url exists.
func (s *ListingStore) Insert(ctx context.Context, r *domain.ListingRecord) error {
	if r == nil || r.ID == "" || r.SourceURL == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO listings (
			listing_id, source_url, source_listing_id, platform, title, title_norm, placeholder_title,
			price_minor, price_normalized, exchange_rate,
			images, description, category_path, brand, condition, bid_count, watch_count, status,
			target_title, target_price, target_category, target_quantity, shipping_cost, publish_state,
			last_scraped_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9::numeric, $10::numeric,
			$11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20::numeric, $21, $22, $23::numeric, $24,
			$25, 1, $26, $27
		)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.SourceURL,
		r.SourceListingID,
		r.Platform,
		r.Title,
		textnorm.TitleKey(r.Title),
		r.PlaceholderTitle,
		r.PriceMinor,
		r.PriceNormalized.StringFixed(2),
		decimalString(r.ExchangeRate),
		nonNilStrings(r.Images),
		r.Description,
		nonNilStrings(r.CategoryPath),
		r.Brand,
		string(r.Condition),
		domain.IntValue(r.BidCount),
		domain.IntValue(r.WatchCount),
		string(r.Status),
		r.Target.Title,
		decimalString(r.Target.Price),
		r.Target.CategoryID,
		r.Target.Quantity,
		decimalString(r.Target.ShippingCost),
		string(publishState(r.Target.State)),
		r.LastScrapedAt,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return wrapErr("insert listing", err)
	}

	r.Version = 1
	return nil
}

// Update replaces the stored record if its version equals expectedVersion.
func (s *ListingStore) Update(ctx context.Context, r *domain.ListingRecord, expectedVersion int64) error {
	if r == nil || r.ID == "" || r.SourceURL == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE listings SET
			source_url = $3, source_listing_id = $4, platform = $5, title = $6, title_norm = $7,
			placeholder_title = $8, price_minor = $9, price_normalized = $10::numeric,
			exchange_rate = $11::numeric, images = $12, description = $13, category_path = $14,
			brand = $15, condition = $16, bid_count = $17, watch_count = $18, status = $19,
			target_title = $20, target_price = $21::numeric, target_category = $22,
			target_quantity = $23, shipping_cost = $24::numeric, publish_state = $25,
			last_scraped_at = $26, updated_at = $27, version = version + 1
		WHERE listing_id = $1 AND version = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		r.ID,
		expectedVersion,
		r.SourceURL,
		r.SourceListingID,
		r.Platform,
		r.Title,
		textnorm.TitleKey(r.Title),
		r.PlaceholderTitle,
		r.PriceMinor,
		r.PriceNormalized.StringFixed(2),
		decimalString(r.ExchangeRate),
		nonNilStrings(r.Images),
		r.Description,
		nonNilStrings(r.CategoryPath),
		r.Brand,
		string(r.Condition),
		domain.IntValue(r.BidCount),
		domain.IntValue(r.WatchCount),
		string(r.Status),
		r.Target.Title,
		decimalString(r.Target.Price),
		r.Target.CategoryID,
		r.Target.Quantity,
		decimalString(r.Target.ShippingCost),
		string(publishState(r.Target.State)),
		r.LastScrapedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return wrapErr("update listing", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE listing_id = $1)`, r.ID).Scan(&exists)
		if err != nil {
			return wrapErr("check listing exists", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrVersionConflict
	}

	r.Version = expectedVersion + 1
	return nil
}

// Delete removes a record. Returns ErrNotFound if it does not exist.
func (s *ListingStore) Delete(ctx context.Context, listingID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE listing_id = $1`, listingID)
	if err != nil {
		return wrapErr("delete listing", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a record by its ID. Returns ErrNotFound if not exists.
func (s *ListingStore) GetByID(ctx context.Context, listingID string) (*domain.ListingRecord, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE listing_id = $1`
	return s.getOne(ctx, "get listing by id", query, listingID)
}

// GetByURL returns the record with the given source_url.
func (s *ListingStore) GetByURL(ctx context.Context, sourceURL string) (*domain.ListingRecord, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE source_url = $1`
	return s.getOne(ctx, "get listing by url", query, sourceURL)
}

// GetBySourceListingID returns the oldest record carrying the identifier.
func (s *ListingStore) GetBySourceListingID(ctx context.Context, sourceListingID string) (*domain.ListingRecord, error) {
	if sourceListingID == "" {
		return nil, storage.ErrNotFound
	}
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE source_listing_id = $1
		ORDER BY created_at ASC, listing_id ASC
		LIMIT 1
	`
	return s.getOne(ctx, "get listing by source id", query, sourceListingID)
}

// FindByTitlePrefix returns records whose normalized title starts with prefix.
func (s *ListingStore) FindByTitlePrefix(ctx context.Context, prefix string, minLen int) ([]*domain.ListingRecord, error) {
	if prefix == "" {
		return nil, nil
	}
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE starts_with(title_norm, $1)
		  AND char_length(title_norm) >= $2
		  AND NOT placeholder_title
		ORDER BY listing_id ASC
	`

	rows, err := s.pool.Query(ctx, query, prefix, minLen)
	if err != nil {
		return nil, wrapErr("find listings by title prefix", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// List returns records matching the filter, ordered by listing_id ASC.
func (s *ListingStore) List(ctx context.Context, filter storage.ListingFilter) ([]*domain.ListingRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if len(filter.Statuses) > 0 {
		add("status = ANY($%d)", enumStrings(filter.Statuses))
	}
	if filter.Platform != "" {
		add("platform = $%d", filter.Platform)
	}
	if len(filter.PublishStates) > 0 {
		add("publish_state = ANY($%d)", enumStrings(filter.PublishStates))
	}
	if filter.UpdatedSince > 0 {
		add("updated_at >= $%d", filter.UpdatedSince)
	}
	if len(filter.IDs) > 0 {
		add("listing_id = ANY($%d)", filter.IDs)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY listing_id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list listings", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

func (s *ListingStore) getOne(ctx context.Context, op, query string, arg any) (*domain.ListingRecord, error) {
	r, err := scanListing(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, wrapErr(op, err)
	}
	return r, nil
}

// scanListing scans a single row into a ListingRecord.
func scanListing(row pgx.Row) (*domain.ListingRecord, error) {
	var (
		r                                 domain.ListingRecord
		priceNormalized                   string
		exchangeRate, targetPrice, shipTo *string
		condition, status, state          string
		bidCount, watchCount              int
	)

	err := row.Scan(
		&r.ID,
		&r.SourceURL,
		&r.SourceListingID,
		&r.Platform,
		&r.Title,
		&r.PlaceholderTitle,
		&r.PriceMinor,
		&priceNormalized,
		&exchangeRate,
		&r.Images,
		&r.Description,
		&r.CategoryPath,
		&r.Brand,
		&condition,
		&bidCount,
		&watchCount,
		&status,
		&r.Target.Title,
		&targetPrice,
		&r.Target.CategoryID,
		&r.Target.Quantity,
		&shipTo,
		&state,
		&r.LastScrapedAt,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.PriceNormalized, err = decimal.NewFromString(priceNormalized); err != nil {
		return nil, fmt.Errorf("parse price_normalized: %w", err)
	}
	if r.ExchangeRate, err = parseDecimal(exchangeRate); err != nil {
		return nil, fmt.Errorf("parse exchange_rate: %w", err)
	}
	if r.Target.Price, err = parseDecimal(targetPrice); err != nil {
		return nil, fmt.Errorf("parse target_price: %w", err)
	}
	if r.Target.ShippingCost, err = parseDecimal(shipTo); err != nil {
		return nil, fmt.Errorf("parse shipping_cost: %w", err)
	}

	r.Condition = domain.Condition(condition)
	r.Status = domain.ListingStatus(status)
	r.Target.State = domain.PublishState(state)
	r.BidCount = &bidCount
	r.WatchCount = &watchCount
	return &r, nil
}

// scanListings scans multiple rows into a slice of ListingRecord.
func scanListings(rows pgx.Rows) ([]*domain.ListingRecord, error) {
	var records []*domain.ListingRecord

	for rows.Next() {
		r, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate listing rows", err)
	}

	return records, nil
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func publishState(s domain.PublishState) domain.PublishState {
	if s == "" {
		return domain.PublishDraft
	}
	return s
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
