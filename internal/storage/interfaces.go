package storage

import (
	"context"

	"auction-ingest/internal/domain"
)

// ListingFilter narrows List results. Zero value matches every record.
type ListingFilter struct {
	Statuses      []domain.ListingStatus
	Platform      string
	PublishStates []domain.PublishState
	UpdatedSince  int64    // Unix ms, 0 disables
	IDs           []string // explicit listing_id set, empty disables
}

// ListingLookup is the read side used by the duplicate resolver.
type ListingLookup interface {
	// GetBySourceListingID returns the oldest record carrying the platform identifier.
	// Returns ErrNotFound if none.
	GetBySourceListingID(ctx context.Context, sourceListingID string) (*domain.ListingRecord, error)

	// GetByURL returns the record with the given source_url. Returns ErrNotFound if none.
	GetByURL(ctx context.Context, sourceURL string) (*domain.ListingRecord, error)

	// FindByTitlePrefix returns records whose normalized title starts with prefix
	// and is at least minLen runes long, ordered by listing_id ASC.
	FindByTitlePrefix(ctx context.Context, prefix string, minLen int) ([]*domain.ListingRecord, error)
}

// ListingStore provides access to listings storage.
type ListingStore interface {
	ListingLookup

	// Insert adds a new record. Returns ErrDuplicateKey if listing_id or source_url exists.
	// On success r.Version is 1.
	Insert(ctx context.Context, r *domain.ListingRecord) error

	// Update replaces the stored record if its version equals expectedVersion.
	// Returns ErrNotFound or ErrVersionConflict. On success r.Version is expectedVersion+1.
	Update(ctx context.Context, r *domain.ListingRecord, expectedVersion int64) error

	// Delete removes a record. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, listingID string) error

	// GetByID retrieves a record by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, listingID string) (*domain.ListingRecord, error)

	// List returns records matching the filter, ordered by listing_id ASC.
	List(ctx context.Context, filter ListingFilter) ([]*domain.ListingRecord, error)
}

// ObservationStore provides access to price_observations storage (append-only).
type ObservationStore interface {
	// Append adds an observation. Duplicate (listing_id, observed_at) pairs are ignored.
	Append(ctx context.Context, o *domain.PriceObservation) error

	// GetByListingID retrieves all observations for a listing, ordered by observed_at ASC.
	GetByListingID(ctx context.Context, listingID string) ([]*domain.PriceObservation, error)
}
