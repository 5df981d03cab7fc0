package upsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/idhash"
	"auction-ingest/internal/storage"
)

// WriteResult describes the single mutation a Write performed.
type WriteResult struct {
	Action   domain.WriteAction
	RecordID string
	Changed  bool // false for an update that only refreshed last_scraped_at
	Record   *domain.ListingRecord
}

// Writer inserts new records and merges candidates into existing ones.
type Writer struct {
	store storage.ListingStore
	now   func() time.Time
}

// Option configures Writer.
type Option func(*Writer)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a new Writer.
func NewWriter(store storage.ListingStore, opts ...Option) *Writer {
	w := &Writer{store: store, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write inserts candidate when existingKey is empty and otherwise merges it
// into the record with that key. Update uses the version read here, so a
// concurrent writer surfaces as storage.ErrVersionConflict.
func (w *Writer) Write(ctx context.Context, candidate *domain.ListingRecord, existingKey string) (WriteResult, error) {
	if candidate == nil || candidate.SourceURL == "" {
		return WriteResult{}, fmt.Errorf("write listing: %w: source url required", storage.ErrInvalidInput)
	}
	if existingKey == "" {
		return w.insert(ctx, candidate)
	}
	return w.update(ctx, candidate, existingKey)
}

func (w *Writer) insert(ctx context.Context, candidate *domain.ListingRecord) (WriteResult, error) {
	now := w.now().UnixMilli()

	r := candidate.Clone()
	if r.ID == "" {
		r.ID = idhash.ComputeListingID(r.SourceURL, now)
	}
	applyDefaults(r)
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := w.store.Insert(ctx, r); err != nil {
		return WriteResult{}, fmt.Errorf("insert listing %s: %w", r.ID, err)
	}
	return WriteResult{Action: domain.ActionInsert, RecordID: r.ID, Changed: true, Record: r}, nil
}

func (w *Writer) update(ctx context.Context, candidate *domain.ListingRecord, key string) (WriteResult, error) {
	prior, err := w.store.GetByID(ctx, key)
	if err != nil {
		return WriteResult{}, fmt.Errorf("read listing %s: %w", key, err)
	}

	merged := Merge(prior, candidate)
	changed := !ContentEqual(prior, merged)
	if changed {
		merged.UpdatedAt = w.now().UnixMilli()
	}

	if changed || merged.LastScrapedAt != prior.LastScrapedAt {
		if err := w.store.Update(ctx, merged, prior.Version); err != nil {
			return WriteResult{}, fmt.Errorf("update listing %s: %w", key, err)
		}
	}
	return WriteResult{Action: domain.ActionUpdate, RecordID: key, Changed: changed, Record: merged}, nil
}

// Delete removes a record. Only operator actions call it.
func (w *Writer) Delete(ctx context.Context, key string) (WriteResult, error) {
	if err := w.store.Delete(ctx, key); err != nil {
		return WriteResult{}, fmt.Errorf("delete listing %s: %w", key, err)
	}
	return WriteResult{Action: domain.ActionDelete, RecordID: key, Changed: true}, nil
}

// IsRetryable reports write errors worth re-resolving and retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrDuplicateKey)
}

func applyDefaults(r *domain.ListingRecord) {
	if r.BidCount == nil {
		r.BidCount = domain.Ptr(0)
	}
	if r.WatchCount == nil {
		r.WatchCount = domain.Ptr(0)
	}
	if !r.Condition.IsValid() {
		r.Condition = domain.ConditionUsed
	}
	if !r.Status.IsValid() {
		r.Status = domain.StatusUnknown
	}
	if !r.Target.State.IsValid() {
		r.Target.State = domain.PublishDraft
	}
	if r.Images == nil {
		r.Images = []string{}
	}
	if r.CategoryPath == nil {
		r.CategoryPath = []string{}
	}
}
