// Package relation computes pairwise (and, for Exact, clique-wise)
// relations between files inside one blocking group.
//
// Concurrency shape follows a worker-pool pattern: one
// job per unit of independent work, fanned out across a
// types.Semaphore sized to the caller's parallelism budget, with a
// sync.WaitGroup barrier at the end. Here the "job" is a whole
// BlockingGroup rather than a single file pair, because pairs inside
// one block share that block's fingerprint cache and must not run
// concurrently against it.
package relation

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/ivoronin/novelguard/internal/fingerprint"
	"github.com/ivoronin/novelguard/internal/types"
)

// Options mirrors the subset of novelguard.Options the detector consumes.
type Options struct {
	EnableExact            bool
	EnableVersion          bool
	EnableContainment      bool
	EnableNearDuplicate    bool
	NearDuplicateThreshold float64
	MaxParallelism         int
}

// FileContext is the per-file state the detector needs: its
// descriptor (size, mtime, path) and its filename parse result
// (range segments, is_complete).
type FileContext struct {
	Descriptor types.FileDescriptor
	Parse      types.FilenameParseResult
}

// FileReader is the read collaborator, matching fingerprint.FileReader.
type FileReader interface {
	ReadWindow(path string, offset, length int64) ([]byte, error)
}

// EncodingHint is the encoding-lookup collaborator, matching
// fingerprint.EncodingHint.
type EncodingHint interface {
	Lookup(fileID uint64) (string, bool)
}

// Detector runs the relation checks across a set of BlockingGroups.
type Detector struct {
	contexts map[uint64]FileContext
	reader   FileReader
	hint     EncodingHint
	opts     Options
}

// NewDetector builds a Detector over the given per-file contexts.
func NewDetector(contexts map[uint64]FileContext, reader FileReader, hint EncodingHint, opts Options) *Detector {
	if opts.MaxParallelism < 1 {
		opts.MaxParallelism = 1
	}
	return &Detector{contexts: contexts, reader: reader, hint: hint, opts: opts}
}

// Detect runs, for every block, the disjoint-range prefilter followed
// by containment, version, and (supplementally) near-duplicate
// checks, plus the optional exact-clique pass. Blocks are processed
// across a worker pool; pairs within one block always run on a single
// goroutine against that block's private fingerprint cache.
// Cancellation is observed before each block is dispatched.
func (d *Detector) Detect(ctx context.Context, blocks []types.BlockingGroup, progress func(processed, total uint64)) ([]types.Relation, error) {
	sem := types.NewSemaphore(d.opts.MaxParallelism)
	var wg sync.WaitGroup
	results := make([][]types.Relation, len(blocks))
	errCh := make(chan error, len(blocks))

	var processedMu sync.Mutex
	var processed uint64

	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, types.NewCancelledError()
		}

		sem.Acquire()
		wg.Add(1)
		go func(i int, block types.BlockingGroup) {
			defer wg.Done()
			defer sem.Release()

			rels, err := d.detectBlock(ctx, block)
			if err != nil {
				errCh <- err
				return
			}
			results[i] = rels

			processedMu.Lock()
			processed++
			if progress != nil {
				progress(processed, uint64(len(blocks)))
			}
			processedMu.Unlock()
		}(i, block)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	var all []types.Relation
	for _, r := range results {
		all = append(all, r...)
	}
	sortRelations(all)
	return all, nil
}

func (d *Detector) detectBlock(ctx context.Context, block types.BlockingGroup) ([]types.Relation, error) {
	members := block.MemberIDs
	sigCache := make(map[uint64]*types.AnchorSignature)

	getSig := func(id uint64) (*types.AnchorSignature, error) {
		if sig, ok := sigCache[id]; ok {
			return sig, nil
		}
		fc := d.contexts[id]
		sig, err := fingerprint.Compute(ctx, d.reader, d.hint, id, fc.Descriptor.Path, fc.Descriptor.Size)
		if err != nil {
			// A fingerprint failure is never fatal to the block: the
			// error is dropped (not kept in any evidence) and the nil
			// signature makes every check that needs it skip the pair.
			return nil, nil
		}
		sigCache[id] = sig
		return sig, nil
	}

	var relations []types.Relation
	covered := make(map[[2]uint64]bool)

	if d.opts.EnableExact {
		exactRelations, exactCovered := d.detectExact(members, getSig)
		relations = append(relations, exactRelations...)
		for k := range exactCovered {
			covered[k] = true
		}
	}

	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := members[i], members[j]
			if covered[[2]uint64{a, b}] {
				continue
			}
			if rel := d.detectPair(a, b, getSig); rel != nil {
				relations = append(relations, rel)
			}
		}
	}

	return relations, nil
}

// segmentPair is one kind of range segment captured by both files in a
// pair, e.g. both sides' "본편" segment.
type segmentPair struct {
	segA, segB types.RangeSegment
}

// matchingSegmentPairs returns, for each segment kind present in both
// segsA and segsB, the pair of segments sharing that kind. A result
// never carries two segments of the same kind, so this is a 1:1 match
// per kind, not a cross product.
func matchingSegmentPairs(segsA, segsB []types.RangeSegment) []segmentPair {
	byKindB := make(map[types.SegmentKind]types.RangeSegment, len(segsB))
	for _, seg := range segsB {
		byKindB[seg.Kind] = seg
	}

	var pairs []segmentPair
	for _, segA := range segsA {
		if segB, ok := byKindB[segA.Kind]; ok {
			pairs = append(pairs, segmentPair{segA: segA, segB: segB})
		}
	}
	return pairs
}

func (d *Detector) detectPair(aID, bID uint64, getSig func(uint64) (*types.AnchorSignature, error)) types.Relation {
	a := d.contexts[aID]
	b := d.contexts[bID]

	pairs := matchingSegmentPairs(a.Parse.Segments, b.Parse.Segments)
	if len(pairs) == 0 {
		return nil
	}

	overlapping := false
	for _, p := range pairs {
		if p.segA.Overlaps(p.segB) {
			overlapping = true
			break
		}
	}
	if !overlapping {
		return nil // disjoint-range prefilter: consecutive volumes, not duplicates
	}

	if d.opts.EnableContainment {
		for _, p := range pairs {
			if rel := d.tryContainment(aID, a, p.segA, bID, b, p.segB, getSig); rel != nil {
				return rel
			}
			if rel := d.tryContainment(bID, b, p.segB, aID, a, p.segA, getSig); rel != nil {
				return rel
			}
		}
	}

	if d.opts.EnableVersion {
		for _, p := range pairs {
			if rel := tryVersion(aID, a, p.segA, bID, b, p.segB); rel != nil {
				return rel
			}
			if rel := tryVersion(bID, b, p.segB, aID, a, p.segA); rel != nil {
				return rel
			}
		}
	}

	if d.opts.EnableNearDuplicate {
		sigA, _ := getSig(aID)
		sigB, _ := getSig(bID)
		if sigA != nil && sigB != nil {
			if sim := sigA.JaccardSimilarity(*sigB); sim >= d.opts.NearDuplicateThreshold {
				return types.NearDuplicateRelation{
					FileIDA:    aID,
					FileIDB:    bID,
					Similarity: sim,
					Conf:       sim,
					Evid:       map[string]any{"similarity": sim},
				}
			}
		}
	}

	return nil
}

func (d *Detector) tryContainment(
	containerID uint64, container FileContext, containerSeg types.RangeSegment,
	containedID uint64, contained FileContext, containedSeg types.RangeSegment,
	getSig func(uint64) (*types.AnchorSignature, error),
) types.Relation {
	if !containerSeg.Contains(containedSeg) {
		return nil
	}
	if container.Descriptor.Size <= contained.Descriptor.Size {
		return nil
	}

	sigContainer, _ := getSig(containerID)
	sigContained, _ := getSig(containedID)
	if sigContainer == nil || sigContained == nil {
		return nil // one or both too small to fingerprint; cannot corroborate
	}
	if sigContained.HeadHash != sigContainer.HeadHash {
		return nil
	}
	if sigContained.TailHash != sigContainer.TailHash && sigContained.TailHash != sigContainer.MidHash {
		return nil
	}

	confidence := 0.90
	if container.Parse.IsComplete && !contained.Parse.IsComplete {
		confidence = 0.95
	}

	return types.ContainmentRelation{
		ContainerID: containerID,
		ContainedID: containedID,
		Conf:        confidence,
		Evid: map[string]any{
			"container_range": [2]uint32{containerSeg.Start, containerSeg.End},
			"contained_range": [2]uint32{containedSeg.Start, containedSeg.End},
		},
	}
}

func tryVersion(newerID uint64, newer FileContext, newerSeg types.RangeSegment, olderID uint64, older FileContext, olderSeg types.RangeSegment) types.Relation {
	if newerSeg.Start != olderSeg.Start || newerSeg.End <= olderSeg.End {
		return nil
	}

	evidence := map[string]any{
		"newer_range": [2]uint32{newerSeg.Start, newerSeg.End},
		"older_range": [2]uint32{olderSeg.Start, olderSeg.End},
	}

	var confidence float64
	if newer.Descriptor.Size < older.Descriptor.Size {
		confidence = 0.70
		evidence["shrink_warning"] = true
	} else {
		confidence = 0.85
		if newer.Descriptor.ModTime.After(older.Descriptor.ModTime) {
			confidence = 0.90
		}
	}

	return types.VersionRelation{NewerID: newerID, OlderID: olderID, Conf: confidence, Evid: evidence}
}

// detectExact performs the tiered exact-duplicate grouping: size ->
// head_hash -> tail_hash -> full streaming SHA-256. Every final class
// of size >= 2 becomes one ExactRelation clique, and every pair inside
// it is marked covered so the pairwise pass below skips it.
func (d *Detector) detectExact(members []uint64, getSig func(uint64) (*types.AnchorSignature, error)) ([]types.Relation, map[[2]uint64]bool) {
	bySize := make(map[int64][]uint64)
	for _, id := range members {
		size := d.contexts[id].Descriptor.Size
		bySize[size] = append(bySize[size], id)
	}

	var relations []types.Relation
	covered := make(map[[2]uint64]bool)

	for _, sizeGroup := range bySize {
		if len(sizeGroup) < 2 {
			continue
		}

		byHead := make(map[[32]byte][]uint64)
		for _, id := range sizeGroup {
			sig, _ := getSig(id)
			if sig == nil {
				continue
			}
			byHead[sig.HeadHash] = append(byHead[sig.HeadHash], id)
		}

		for _, headGroup := range byHead {
			if len(headGroup) < 2 {
				continue
			}

			byTail := make(map[[32]byte][]uint64)
			for _, id := range headGroup {
				sig, _ := getSig(id)
				byTail[sig.TailHash] = append(byTail[sig.TailHash], id)
			}

			for _, tailGroup := range byTail {
				if len(tailGroup) < 2 {
					continue
				}

				byFull := make(map[[32]byte][]uint64)
				for _, id := range tailGroup {
					fc := d.contexts[id]
					full, err := d.fullHash(fc.Descriptor.Path, fc.Descriptor.Size)
					if err != nil {
						continue
					}
					byFull[full] = append(byFull[full], id)
				}

				for _, clique := range byFull {
					if len(clique) < 2 {
						continue
					}
					sorted := append([]uint64(nil), clique...)
					sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
					relations = append(relations, types.ExactRelation{
						FileIDs: sorted,
						Conf:    1.0,
						Evid:    map[string]any{"clique_size": len(sorted)},
					})
					for i := 0; i < len(sorted); i++ {
						for j := i + 1; j < len(sorted); j++ {
							covered[[2]uint64{sorted[i], sorted[j]}] = true
						}
					}
				}
			}
		}
	}

	sort.Slice(relations, func(i, j int) bool {
		return relations[i].(types.ExactRelation).FileIDs[0] < relations[j].(types.ExactRelation).FileIDs[0]
	})
	return relations, covered
}

// fullHash streams the whole file through SHA-256 in 1 MiB reads via
// the detector's FileReader (so a caching reader sees these reads
// too): this is the final exact-check tier and the one place the
// detector reads an entire file.
func (d *Detector) fullHash(path string, size int64) ([32]byte, error) {
	h := sha256.New()
	const chunkSize = 1 << 20

	var offset int64
	for offset < size {
		length := int64(chunkSize)
		if remaining := size - offset; remaining < length {
			length = remaining
		}
		data, err := d.reader.ReadWindow(path, offset, length)
		if err != nil {
			return [32]byte{}, err
		}
		if len(data) == 0 {
			break
		}
		h.Write(data)
		offset += int64(len(data))
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func sortRelations(relations []types.Relation) {
	sort.SliceStable(relations, func(i, j int) bool {
		ii, ji := minID(relations[i]), minID(relations[j])
		if ii != ji {
			return ii < ji
		}
		return relations[i].Kind() < relations[j].Kind()
	})
}

func minID(r types.Relation) uint64 {
	ids := r.InvolvedIDs()
	min := ids[0]
	for _, id := range ids[1:] {
		if id < min {
			min = id
		}
	}
	return min
}
