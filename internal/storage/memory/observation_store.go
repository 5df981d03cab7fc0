package memory

import (
	"context"
	"sort"
	"sync"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
)

// ObservationStore is an in-memory implementation of storage.ObservationStore.
type ObservationStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.PriceObservation // listing_id -> observed_at -> point
}

// NewObservationStore creates a new in-memory observation store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{
		data: make(map[string]map[int64]*domain.PriceObservation),
	}
}

// Append adds an observation. Duplicate (listing_id, observed_at) pairs are ignored.
func (s *ObservationStore) Append(_ context.Context, o *domain.PriceObservation) error {
	if o == nil || o.ListingID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	points, ok := s.data[o.ListingID]
	if !ok {
		points = make(map[int64]*domain.PriceObservation)
		s.data[o.ListingID] = points
	}
	if _, exists := points[o.ObservedAt]; exists {
		return nil
	}

	obsCopy := *o
	if o.PriceMinor != nil {
		v := *o.PriceMinor
		obsCopy.PriceMinor = &v
	}
	points[o.ObservedAt] = &obsCopy
	return nil
}

// GetByListingID retrieves all observations for a listing, ordered by observed_at ASC.
func (s *ObservationStore) GetByListingID(_ context.Context, listingID string) ([]*domain.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.data[listingID]
	result := make([]*domain.PriceObservation, 0, len(points))
	for _, p := range points {
		obsCopy := *p
		result = append(result, &obsCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})
	return result, nil
}

// Compile-time interface check
var _ storage.ObservationStore = (*ObservationStore)(nil)
