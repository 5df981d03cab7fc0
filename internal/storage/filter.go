package storage

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"auction-ingest/internal/domain"
)

// Matches reports whether a record satisfies the filter.
// Backends without query support (memory) use it directly.
func (f ListingFilter) Matches(r *domain.ListingRecord) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.Platform != "" && f.Platform != r.Platform {
		return false
	}
	if len(f.PublishStates) > 0 && !slices.Contains(f.PublishStates, r.Target.State) {
		return false
	}
	if f.UpdatedSince > 0 && r.UpdatedAt < f.UpdatedSince {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, r.ID) {
		return false
	}
	return true
}

// FilterParams is the textual form of a ListingFilter as it arrives from
// query strings and command flags. Lists are comma-separated.
type FilterParams struct {
	Status       string
	Platform     string
	PublishState string
	UpdatedSince string // RFC3339 or Unix ms
}

// ParseFilter validates params. Enum values are matched case-insensitively.
func ParseFilter(p FilterParams) (ListingFilter, error) {
	f := ListingFilter{Platform: strings.TrimSpace(p.Platform)}

	for _, s := range splitComma(p.Status) {
		status, ok := lookupFold(s, domain.StatusActive, domain.StatusEnded, domain.StatusUnknown)
		if !ok {
			return ListingFilter{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
		}
		f.Statuses = append(f.Statuses, status)
	}
	for _, s := range splitComma(p.PublishState) {
		state, ok := lookupFold(s, domain.PublishDraft, domain.PublishPrepared, domain.PublishPublished)
		if !ok {
			return ListingFilter{}, fmt.Errorf("%w: unknown publish state %q", ErrInvalidInput, s)
		}
		f.PublishStates = append(f.PublishStates, state)
	}

	if v := strings.TrimSpace(p.UpdatedSince); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.UpdatedSince = ms
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.UpdatedSince = t.UnixMilli()
		} else {
			return ListingFilter{}, fmt.Errorf("%w: updated_since %q is neither RFC3339 nor Unix ms", ErrInvalidInput, v)
		}
	}
	return f, nil
}

func lookupFold[T ~string](s string, values ...T) (T, bool) {
	for _, v := range values {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
