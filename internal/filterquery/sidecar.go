package filterquery

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"repocron/internal/domain"
)

// MetadataLookup returns the sidecar metadata for an item, ok=false when the
// item has none.
type MetadataLookup interface {
	GetItemMetadata(ctx context.Context, repoKey string, number int) (domain.ItemMetadata, bool, error)
}

// FilterBySidecar keeps the items whose sidecar metadata satisfies p.
//
// When p has no sidecar filters the input is returned unchanged, so items
// without metadata are never penalized by an inactive filter. Otherwise an
// item without metadata is dropped, categories combine with AND and values
// within a category with OR.
//
// A lookup failure drops that item; all lookup failures are returned joined
// alongside the surviving items.
func FilterBySidecar(ctx context.Context, items []domain.TargetItem, p Params, repoKey string, lookup MetadataLookup) ([]domain.TargetItem, error) {
	if !p.HasSidecarFilters() {
		return items, nil
	}

	out := make([]domain.TargetItem, 0, len(items))
	var errs []error
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return out, errors.Join(append(errs, err)...)
		}
		meta, ok, err := lookup.GetItemMetadata(ctx, repoKey, it.Number)
		if err != nil {
			errs = append(errs, fmt.Errorf("sidecar metadata for #%d: %w", it.Number, err))
			continue
		}
		if !ok {
			continue
		}
		if Matches(p, meta) {
			out = append(out, it)
		}
	}
	return out, errors.Join(errs...)
}

// Matches applies the sidecar categories of p to one item's metadata.
func Matches(p Params, m domain.ItemMetadata) bool {
	scalar := []struct {
		include, exclude []string
		value            string
	}{
		{p.Priority, p.ExcludePriority, m.Priority},
		{p.Difficulty, p.ExcludeDifficulty, m.Difficulty},
		{p.Risk, p.ExcludeRisk, m.Risk},
		{p.Type, p.ExcludeType, m.Type},
		{p.SidecarStatus, p.ExcludeSidecarStatus, m.Status},
	}
	for _, c := range scalar {
		if len(c.include) > 0 && !lo.Contains(c.include, c.value) {
			return false
		}
		if len(c.exclude) > 0 && lo.Contains(c.exclude, c.value) {
			return false
		}
	}

	areas := []string(m.AffectedAreas)
	if len(p.AffectedAreas) > 0 && !lo.Some(areas, p.AffectedAreas) {
		return false
	}
	if len(p.ExcludeAffectedAreas) > 0 && lo.Some(areas, p.ExcludeAffectedAreas) {
		return false
	}
	return true
}
