// Package normalizer merges the pairwise/clique relations produced by
// internal/relation into the final disjoint DuplicateGroups, via
// union-find over every relation's InvolvedIDs and a deterministic
// keeper tie-break chain.
package normalizer

import (
	"slices"
	"sort"

	"github.com/ivoronin/novelguard/internal/types"
)

// unionFind is a disjoint-set over uint64 file ids, with path
// compression and union-by-rank. One instance is built per Normalize
// call over every id any input relation touches.
type unionFind struct {
	parent map[uint64]uint64
	rank   map[uint64]int
}

func newUnionFind(ids []uint64) *unionFind {
	uf := &unionFind{
		parent: make(map[uint64]uint64, len(ids)),
		rank:   make(map[uint64]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
		uf.rank[id] = 0
	}
	return uf
}

func (uf *unionFind) find(x uint64) uint64 {
	if uf.parent[x] != x {
		uf.parent[x] = uf.find(uf.parent[x])
	}
	return uf.parent[x]
}

func (uf *unionFind) union(x, y uint64) {
	rx, ry := uf.find(x), uf.find(y)
	if rx == ry {
		return
	}
	switch {
	case uf.rank[rx] < uf.rank[ry]:
		uf.parent[rx] = ry
	case uf.rank[rx] > uf.rank[ry]:
		uf.parent[ry] = rx
	default:
		uf.parent[ry] = rx
		uf.rank[rx]++
	}
}

// components returns every connected component as a list of member
// ids, keyed by root. The member order is not defined; callers sort.
func (uf *unionFind) components() map[uint64][]uint64 {
	out := make(map[uint64][]uint64)
	for id := range uf.parent {
		root := uf.find(id)
		out[root] = append(out[root], id)
	}
	return out
}

// FileContext is the per-file data the keeper tie-break needs: the
// path, size and mtime of a types.FileDescriptor. FileID is the map
// key in the contexts argument to Normalize.
type FileContext struct {
	Path    string
	Size    int64
	ModTime int64 // Unix seconds; compared directly, no time.Time import needed here
}

// Normalize merges relations into disjoint DuplicateGroups. contexts
// must have an entry for every file_id any relation implicates; the
// relation detector only ever names ids the caller described, so a
// missing entry here is a caller bug, not an expected input shape.
func Normalize(relations []types.Relation, contexts map[uint64]FileContext) (types.DuplicateGroups, error) {
	if len(relations) == 0 {
		return types.NewDuplicateGroups(nil), nil
	}

	idSet := make(map[uint64]struct{})
	for _, rel := range relations {
		for _, id := range rel.InvolvedIDs() {
			idSet[id] = struct{}{}
		}
	}
	ids := make([]uint64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	uf := newUnionFind(ids)
	for _, rel := range relations {
		involved := rel.InvolvedIDs()
		for i := 1; i < len(involved); i++ {
			uf.union(involved[0], involved[i])
		}
	}

	// relationsByRoot buckets every source relation under the root of
	// the component it touches, so group assembly only has to look at
	// relations relevant to its own component.
	relationsByRoot := make(map[uint64][]types.Relation)
	for _, rel := range relations {
		involved := rel.InvolvedIDs()
		if len(involved) == 0 {
			continue
		}
		root := uf.find(involved[0])
		relationsByRoot[root] = append(relationsByRoot[root], rel)
	}

	components := uf.components()
	roots := make([]uint64, 0, len(components))
	for root, members := range components {
		if len(members) < 2 {
			continue
		}
		roots = append(roots, root)
	}

	// Enumeration order must be stable: sort components by their
	// smallest member id, then assign group ids sequentially starting
	// at 1 in that order.
	sort.Slice(roots, func(i, j int) bool {
		return smallestMember(components[roots[i]]) < smallestMember(components[roots[j]])
	})

	groups := make([]types.DuplicateGroup, 0, len(roots))
	for i, root := range roots {
		members := slices.Clone(components[root])
		slices.Sort(members)

		componentRelations := relationsByRoot[root]
		group := buildGroup(uint32(i+1), members, componentRelations, contexts)
		groups = append(groups, group)
	}

	if err := validate(groups, contexts); err != nil {
		return types.DuplicateGroups{}, err
	}

	return types.NewDuplicateGroups(groups), nil
}

func smallestMember(members []uint64) uint64 {
	min := members[0]
	for _, m := range members[1:] {
		if m < min {
			min = m
		}
	}
	return min
}

func buildGroup(groupID uint32, members []uint64, relations []types.Relation, contexts map[uint64]FileContext) types.DuplicateGroup {
	duplicateType, kinds := collapseType(relations)
	confidence := 0.0
	mergedEvidence := make([]map[string]any, 0, len(relations))
	for _, rel := range relations {
		if c := rel.Confidence(); c > confidence {
			confidence = c
		}
		mergedEvidence = append(mergedEvidence, rel.Evidence())
	}

	evidence := map[string]any{
		"duplicate_types":      kinds,
		"original_groups_count": len(relations),
		"merged_evidence":       mergedEvidence,
	}

	keeper := selectKeeper(members, relations, contexts)

	return types.DuplicateGroup{
		GroupID:             groupID,
		DuplicateType:       duplicateType,
		FileIDs:             members,
		RecommendedKeeperID: keeper,
		Confidence:          confidence,
		Evidence:            evidence,
	}
}

// collapseType reports the single shared RelationKind if every source
// relation touching this component agrees, otherwise DuplicateMerged.
func collapseType(relations []types.Relation) (types.DuplicateType, []string) {
	seen := make(map[types.RelationKind]struct{})
	for _, rel := range relations {
		seen[rel.Kind()] = struct{}{}
	}

	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k.String())
	}
	slices.Sort(kinds)

	if len(seen) != 1 {
		return types.DuplicateMerged, kinds
	}
	for k := range seen {
		switch k {
		case types.RelationContainment:
			return types.DuplicateContainment, kinds
		case types.RelationVersion:
			return types.DuplicateVersion, kinds
		case types.RelationExact:
			return types.DuplicateExact, kinds
		case types.RelationNearDuplicate:
			return types.DuplicateNearDuplicate, kinds
		}
	}
	return types.DuplicateMerged, kinds
}

// selectKeeper runs the four-tier deterministic tie-break: preferred-
// side count, then size, then mtime, then lexicographically smallest
// path. Each tier narrows the candidate set; ties at every tier but
// the last fall through to the next.
func selectKeeper(members []uint64, relations []types.Relation, contexts map[uint64]FileContext) uint64 {
	candidates := slices.Clone(members)

	preferredCount := make(map[uint64]int)
	for _, rel := range relations {
		if id, ok := rel.PreferredID(); ok {
			preferredCount[id]++
		}
	}
	candidates = narrowByMax(candidates, func(id uint64) int { return preferredCount[id] })
	if len(candidates) == 1 {
		return candidates[0]
	}

	candidates = narrowByMax(candidates, func(id uint64) int { return int(contexts[id].Size) })
	if len(candidates) == 1 {
		return candidates[0]
	}

	candidates = narrowByMax(candidates, func(id uint64) int { return int(contexts[id].ModTime) })
	if len(candidates) == 1 {
		return candidates[0]
	}

	best := candidates[0]
	bestPath := contexts[best].Path
	for _, id := range candidates[1:] {
		if p := contexts[id].Path; p < bestPath {
			best, bestPath = id, p
		}
	}
	return best
}

// narrowByMax keeps only the ids whose score (via key) equals the
// maximum score among the input candidates.
func narrowByMax(candidates []uint64, key func(uint64) int) []uint64 {
	best := key(candidates[0])
	for _, id := range candidates[1:] {
		if s := key(id); s > best {
			best = s
		}
	}
	out := make([]uint64, 0, len(candidates))
	for _, id := range candidates {
		if key(id) == best {
			out = append(out, id)
		}
	}
	return out
}

// validate enforces the four cross-group invariants before Normalize
// returns. Any violation means the union-find/grouping logic above has
// a bug, not that the input data is malformed.
func validate(groups []types.DuplicateGroup, contexts map[uint64]FileContext) error {
	seenID := make(map[uint64]uint32)
	for _, g := range groups {
		idsInGroup := make(map[uint64]struct{}, len(g.FileIDs))
		pathsInGroup := make(map[string]struct{}, len(g.FileIDs))

		for _, id := range g.FileIDs {
			if _, dup := idsInGroup[id]; dup {
				return types.NewInvariantViolatedError("duplicate file_id within group")
			}
			idsInGroup[id] = struct{}{}

			if otherGroup, ok := seenID[id]; ok && otherGroup != g.GroupID {
				return types.NewInvariantViolatedError("file_id spans more than one group")
			}
			seenID[id] = g.GroupID

			path := contexts[id].Path
			if _, dup := pathsInGroup[path]; dup {
				return types.NewInvariantViolatedError("duplicate path within group")
			}
			pathsInGroup[path] = struct{}{}
		}

		keeperFound := false
		for _, id := range g.FileIDs {
			if id == g.RecommendedKeeperID {
				keeperFound = true
				break
			}
		}
		if !keeperFound {
			return types.NewInvariantViolatedError("recommended keeper is not a group member")
		}
	}
	return nil
}
