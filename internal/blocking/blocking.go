// Package blocking partitions parsed files into candidate groups small
// enough for the relation detector's O(n^2) pairwise comparison.
//
// Grouping is equivalent to a three-level nested partition —
// extension+title, then range start, then range unit — implemented as
// a single map keyed by the composite types.BlockingKey. Only parses with confidence >= parser.MinConfidenceForBlocking
// participate; everything else is dropped before it ever reaches a
// block, and files with no captured segment at all never get one either.
package blocking

import (
	"cmp"
	"slices"

	"github.com/ivoronin/novelguard/internal/parser"
	"github.com/ivoronin/novelguard/internal/types"
)

// Entry pairs a scanned file with its parse result, the unit the
// blocking service partitions by.
type Entry struct {
	Descriptor types.FileDescriptor
	Parse      types.FilenameParseResult
}

// Build partitions entries into blocking groups. Entries whose parse
// confidence is below the blocking floor, or that carry no range
// segment at all, never enter a group. Singleton groups (no possible
// pairwise comparison) are discarded.
func Build(entries []Entry) []types.BlockingGroup {
	type bucket struct {
		key     types.BlockingKey
		members []uint64
	}

	buckets := make(map[types.BlockingKey]*bucket)
	order := make([]types.BlockingKey, 0)

	for _, e := range entries {
		if e.Parse.Confidence < parser.MinConfidenceForBlocking {
			continue
		}
		if !e.Parse.HasPrimary || e.Parse.SeriesTitleNorm == "" {
			continue
		}

		key := types.BlockingKey{
			Extension:       e.Descriptor.Extension,
			SeriesTitleNorm: e.Parse.SeriesTitleNorm,
			RangeStart:      e.Parse.RangeStart,
			RangeUnit:       e.Parse.RangeUnit,
		}

		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.members = append(b.members, e.Descriptor.FileID)
	}

	groups := make([]types.BlockingGroup, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		if len(b.members) < 2 {
			continue
		}
		members := slices.Clone(b.members)
		slices.Sort(members)
		groups = append(groups, types.BlockingGroup{Key: b.key, MemberIDs: members})
	}

	// Deterministic regardless of input ordering: sort groups by their
	// key's natural field order rather than relying on map/insertion
	// order, which varies with caller iteration.
	slices.SortFunc(groups, func(a, b types.BlockingGroup) int {
		if c := cmp.Compare(a.Key.Extension, b.Key.Extension); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key.SeriesTitleNorm, b.Key.SeriesTitleNorm); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key.RangeStart, b.Key.RangeStart); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.RangeUnit, b.Key.RangeUnit)
	})

	return groups
}
