package resolver

import (
	"sort"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/textnorm"
)

// Pair is one duplicate relation found by ScanDuplicates. A < B always.
type Pair struct {
	A, B string
	Tier Tier
}

// Group is a connected set of mutually duplicate records, IDs ascending.
type Group struct {
	IDs []string
}

// ScanDuplicates self-joins records over all four tiers. Each unordered pair
// is reported once with the highest-priority tier that links it; self-pairs
// are never reported. Output is ordered by (A, B).
func (r *Resolver) ScanDuplicates(records []*domain.ListingRecord) []Pair {
	byID := make(map[string]*domain.ListingRecord, len(records))
	for _, rec := range records {
		if rec != nil && rec.ID != "" {
			byID[rec.ID] = rec
		}
	}

	type bucketing struct {
		tier Tier
		key  func(*domain.ListingRecord) (string, bool)
	}
	tiers := []bucketing{
		{TierIdentifier, func(rec *domain.ListingRecord) (string, bool) {
			id := domain.StringValue(rec.SourceListingID)
			return id, id != ""
		}},
		{TierURL, func(rec *domain.ListingRecord) (string, bool) {
			return rec.SourceURL, rec.SourceURL != ""
		}},
		{TierExactTitle, func(rec *domain.ListingRecord) (string, bool) {
			if rec.PlaceholderTitle {
				return "", false
			}
			key := textnorm.TitleKey(rec.Title)
			return key, key != ""
		}},
		{TierTitlePrefix, func(rec *domain.ListingRecord) (string, bool) {
			key, ok := r.titleKey(rec)
			if !ok {
				return "", false
			}
			return textnorm.Prefix(key, r.cfg.PrefixLen), true
		}},
	}

	type pairKey struct{ a, b string }
	seen := make(map[pairKey]struct{})
	var pairs []Pair

	for _, t := range tiers {
		buckets := make(map[string][]string)
		for id, rec := range byID {
			if k, ok := t.key(rec); ok {
				buckets[k] = append(buckets[k], id)
			}
		}

		for _, ids := range buckets {
			if len(ids) < 2 {
				continue
			}
			sort.Strings(ids)
			for i := 0; i < len(ids); i++ {
				for j := i + 1; j < len(ids); j++ {
					a, b := ids[i], ids[j]
					if t.tier >= TierExactTitle && identifiersConflict(byID[a], byID[b]) {
						continue
					}
					pk := pairKey{a, b}
					if _, dup := seen[pk]; dup {
						continue
					}
					seen[pk] = struct{}{}
					pairs = append(pairs, Pair{A: a, B: b, Tier: t.tier})
				}
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// Groups joins pairs into connected groups, ordered by their smallest ID.
func Groups(pairs []Pair) []Group {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if p, ok := parent[x]; ok && p != x {
			root := find(p)
			parent[x] = root
			return root
		}
		parent[x] = x
		return x
	}

	for _, p := range pairs {
		ra, rb := find(p.A), find(p.B)
		if ra == rb {
			continue
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	members := make(map[string][]string)
	for id := range parent {
		root := find(id)
		members[root] = append(members[root], id)
	}

	groups := make([]Group, 0, len(members))
	for _, ids := range members {
		sort.Strings(ids)
		groups = append(groups, Group{IDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].IDs[0] < groups[j].IDs[0]
	})
	return groups
}
