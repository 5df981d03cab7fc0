package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/resolver"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/upsert"
)

// DuplicateReport is the result of a full duplicate scan.
type DuplicateReport struct {
	Scanned int             `json:"scanned"`
	Pairs   []DuplicatePair `json:"pairs"`
	Groups  [][]string      `json:"groups"`
}

// DuplicatePair is one linked pair and the tier that linked it.
type DuplicatePair struct {
	A    string `json:"a"`
	B    string `json:"b"`
	Tier string `json:"tier"`
}

// MergeSummary reports a duplicate cleanup.
type MergeSummary struct {
	Groups  int      `json:"groups"`
	Kept    []string `json:"kept"`
	Deleted []string `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// FindDuplicates scans every stored record over all match tiers.
func (r *Reconciler) FindDuplicates(ctx context.Context) (*DuplicateReport, error) {
	records, err := r.store.List(ctx, storage.ListingFilter{})
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}

	pairs := r.resolver.ScanDuplicates(records)
	report := &DuplicateReport{
		Scanned: len(records),
		Pairs:   make([]DuplicatePair, 0, len(pairs)),
		Groups:  [][]string{},
	}
	for _, p := range pairs {
		report.Pairs = append(report.Pairs, DuplicatePair{A: p.A, B: p.B, Tier: p.Tier.String()})
	}
	for _, g := range resolver.Groups(pairs) {
		report.Groups = append(report.Groups, g.IDs)
	}
	return report, nil
}

// MergeDuplicates folds each duplicate group into its oldest record: gaps in
// the keeper are filled from the others, which are then deleted. Each group
// is handled independently; a failed group is reported and skipped.
func (r *Reconciler) MergeDuplicates(ctx context.Context) (*MergeSummary, error) {
	report, err := r.FindDuplicates(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MergeSummary{Kept: []string{}, Deleted: []string{}}
	for _, ids := range report.Groups {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Groups++
		deleted, keeper, err := r.mergeGroup(ctx, ids)
		if keeper != "" {
			summary.Kept = append(summary.Kept, keeper)
		}
		summary.Deleted = append(summary.Deleted, deleted...)
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
	}

	r.log.WithFields(logrus.Fields{
		"groups":  summary.Groups,
		"deleted": len(summary.Deleted),
		"errors":  len(summary.Errors),
	}).Info("Duplicate merge completed")
	return summary, nil
}

func (r *Reconciler) mergeGroup(ctx context.Context, ids []string) ([]string, string, error) {
	records := make([]*domain.ListingRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.store.GetByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("group %v: %w", ids, err)
		}
		records = append(records, rec)
	}
	if len(records) < 2 {
		return nil, "", nil
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt < records[j].CreatedAt
		}
		return records[i].ID < records[j].ID
	})
	keeper := records[0]

	merged := keeper
	for _, other := range records[1:] {
		merged = upsert.FillGaps(merged, other)
	}
	if !upsert.ContentEqual(keeper, merged) || merged.LastScrapedAt != keeper.LastScrapedAt {
		merged.UpdatedAt = r.now().UnixMilli()
		if err := r.store.Update(ctx, merged, keeper.Version); err != nil {
			return nil, keeper.ID, fmt.Errorf("update keeper %s: %w", keeper.ID, err)
		}
	}

	var deleted []string
	for _, other := range records[1:] {
		if _, err := r.writer.Delete(ctx, other.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return deleted, keeper.ID, fmt.Errorf("delete %s: %w", other.ID, err)
		}
		deleted = append(deleted, other.ID)
	}
	r.log.WithFields(logrus.Fields{"listing_id": keeper.ID, "merged": deleted}).Info("Duplicates merged")
	return deleted, keeper.ID, nil
}
