package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
)

// ObservationStore implements storage.ObservationStore using ClickHouse.
type ObservationStore struct {
	conn *Conn
}

// NewObservationStore creates a new ObservationStore.
func NewObservationStore(conn *Conn) *ObservationStore {
	return &ObservationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ObservationStore = (*ObservationStore)(nil)

// Append adds an observation. A row already present for (listing_id, observed_at) is left as is.
func (s *ObservationStore) Append(ctx context.Context, o *domain.PriceObservation) error {
	if o == nil || o.ListingID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, o.ListingID, o.ObservedAt)
	if err != nil {
		return fmt.Errorf("check exists: %w: %w", storage.ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_observations (
			listing_id, source_url, observed_at, price_minor, price_normalized,
			bid_count, watch_count, status
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w: %w", storage.ErrUnavailable, err)
	}

	err = batch.Append(
		o.ListingID, o.SourceURL, o.ObservedAt, o.PriceMinor, o.PriceNormalized,
		uint32(o.BidCount), uint32(o.WatchCount), string(o.Status),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

// GetByListingID retrieves all observations for a listing, ordered by observed_at ASC.
func (s *ObservationStore) GetByListingID(ctx context.Context, listingID string) ([]*domain.PriceObservation, error) {
	query := `
		SELECT listing_id, source_url, observed_at, price_minor, price_normalized,
			bid_count, watch_count, status
		FROM price_observations FINAL
		WHERE listing_id = ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("query by listing id: %w: %w", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

func (s *ObservationStore) exists(ctx context.Context, listingID string, observedAt int64) (bool, error) {
	query := `
		SELECT count(*) FROM price_observations
		WHERE listing_id = ? AND observed_at = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, listingID, observedAt).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanObservations scans multiple rows.
func scanObservations(rows chRows) ([]*domain.PriceObservation, error) {
	var points []*domain.PriceObservation

	for rows.Next() {
		var (
			o                    domain.PriceObservation
			price                decimal.Decimal
			bidCount, watchCount uint32
			status               string
		)

		err := rows.Scan(
			&o.ListingID, &o.SourceURL, &o.ObservedAt, &o.PriceMinor, &price,
			&bidCount, &watchCount, &status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}

		o.PriceNormalized = price
		o.BidCount = int(bidCount)
		o.WatchCount = int(watchCount)
		o.Status = domain.ListingStatus(status)
		points = append(points, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation rows: %w", err)
	}

	return points, nil
}
