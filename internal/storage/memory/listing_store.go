package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/textnorm"
)

// ListingStore is an in-memory implementation of storage.ListingStore.
type ListingStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.ListingRecord // keyed by listing_id
	byURL map[string]string                // source_url -> listing_id
}

// NewListingStore creates a new in-memory listing store.
func NewListingStore() *ListingStore {
	return &ListingStore{
		data:  make(map[string]*domain.ListingRecord),
		byURL: make(map[string]string),
	}
}

// Insert adds a new record. Returns ErrDuplicateKey if listing_id or source_url exists.
func (s *ListingStore) Insert(_ context.Context, r *domain.ListingRecord) error {
	if r == nil || r.ID == "" || r.SourceURL == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byURL[r.SourceURL]; exists {
		return storage.ErrDuplicateKey
	}

	r.Version = 1
	s.data[r.ID] = r.Clone()
	s.byURL[r.SourceURL] = r.ID
	return nil
}

// Update replaces the stored record if its version equals expectedVersion.
func (s *ListingStore) Update(_ context.Context, r *domain.ListingRecord, expectedVersion int64) error {
	if r == nil || r.ID == "" || r.SourceURL == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, exists := s.data[r.ID]
	if !exists {
		return storage.ErrNotFound
	}
	if prior.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	if r.SourceURL != prior.SourceURL {
		if owner, taken := s.byURL[r.SourceURL]; taken && owner != r.ID {
			return storage.ErrDuplicateKey
		}
		delete(s.byURL, prior.SourceURL)
		s.byURL[r.SourceURL] = r.ID
	}

	r.Version = expectedVersion + 1
	s.data[r.ID] = r.Clone()
	return nil
}

// Delete removes a record. Returns ErrNotFound if it does not exist.
func (s *ListingStore) Delete(_ context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[listingID]
	if !exists {
		return storage.ErrNotFound
	}
	delete(s.byURL, r.SourceURL)
	delete(s.data, listingID)
	return nil
}

// GetByID retrieves a record by its ID. Returns ErrNotFound if not exists.
func (s *ListingStore) GetByID(_ context.Context, listingID string) (*domain.ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[listingID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// GetByURL returns the record with the given source_url.
func (s *ListingStore) GetByURL(_ context.Context, sourceURL string) (*domain.ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byURL[sourceURL]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.data[id].Clone(), nil
}

// GetBySourceListingID returns the oldest record carrying the identifier.
func (s *ListingStore) GetBySourceListingID(_ context.Context, sourceListingID string) (*domain.ListingRecord, error) {
	if sourceListingID == "" {
		return nil, storage.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.ListingRecord
	for _, r := range s.data {
		if r.SourceListingID == nil || *r.SourceListingID != sourceListingID {
			continue
		}
		if found == nil || olderThan(r, found) {
			found = r
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found.Clone(), nil
}

// FindByTitlePrefix returns records whose normalized title starts with prefix.
func (s *ListingStore) FindByTitlePrefix(_ context.Context, prefix string, minLen int) ([]*domain.ListingRecord, error) {
	if prefix == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ListingRecord
	for _, r := range s.data {
		if r.PlaceholderTitle {
			continue
		}
		key := textnorm.TitleKey(r.Title)
		if textnorm.Len(key) < minLen || !strings.HasPrefix(key, prefix) {
			continue
		}
		result = append(result, r.Clone())
	}

	sortByID(result)
	return result, nil
}

// List returns records matching the filter, ordered by listing_id ASC.
func (s *ListingStore) List(_ context.Context, filter storage.ListingFilter) ([]*domain.ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ListingRecord
	for _, r := range s.data {
		if filter.Matches(r) {
			result = append(result, r.Clone())
		}
	}

	sortByID(result)
	return result, nil
}

func olderThan(a, b *domain.ListingRecord) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

func sortByID(records []*domain.ListingRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}

// Compile-time interface check
var _ storage.ListingStore = (*ListingStore)(nil)
