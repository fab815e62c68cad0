// Package pipeline threads the five analysis stages together: filename
// parsing, blocking, relation detection (which computes anchor
// signatures lazily per-file), and group normalization. It owns the
// short-circuit-on-empty-stage behavior and the stage-indexed progress
// callback.
package pipeline

import (
	"context"

	"github.com/ivoronin/novelguard/internal/blocking"
	"github.com/ivoronin/novelguard/internal/normalizer"
	"github.com/ivoronin/novelguard/internal/parser"
	"github.com/ivoronin/novelguard/internal/relation"
	"github.com/ivoronin/novelguard/internal/types"
)

// Stage names reported to ProgressFunc, in pipeline order.
const (
	StageParse     = "parse"
	StageBlock     = "block"
	StageRelate    = "relate"
	StageNormalize = "normalize"
)

// ProgressFunc is called at the start of each stage, once per parsed
// file in the parse stage, once per completed block in the relate
// stage, and at the end of the block and normalize stages.
type ProgressFunc func(stageIndex int, stageName string, processed, total uint64)

// Options mirrors novelguard.Options. The pipeline applies MinFileSize
// itself, before parsing; the relation fields are passed to the
// relation detector; ConfidenceThreshold is not read by any stage.
type Options struct {
	EnableExact            bool
	EnableVersion          bool
	EnableContainment      bool
	EnableNearDuplicate    bool
	NearDuplicateThreshold float64
	MinFileSize            int64
	ConfidenceThreshold    float64
	MaxParallelism         int
}

// FileReader and EncodingHint match relation's (and fingerprint's)
// collaborator interfaces; declared again here so pipeline has no
// import-time dependency on a concrete reader implementation.
type FileReader interface {
	ReadWindow(path string, offset, length int64) ([]byte, error)
}

type EncodingHint interface {
	Lookup(fileID uint64) (string, bool)
}

// Run executes all five stages over descriptors and returns the final
// disjoint DuplicateGroups. Cancellation is checked before each stage;
// a stage whose output is empty short-circuits the remaining stages
// and returns an empty result immediately, regardless of which stage
// it was (never a positional "stage == 0" check).
func Run(
	ctx context.Context,
	descriptors []types.FileDescriptor,
	opts Options,
	reader FileReader,
	hint EncodingHint,
	progress ProgressFunc,
) (types.DuplicateGroups, error) {
	report := func(idx int, name string, processed, total uint64) {
		if progress != nil {
			progress(idx, name, processed, total)
		}
	}

	if err := ctx.Err(); err != nil {
		return types.DuplicateGroups{}, types.NewCancelledError()
	}

	// Stage 1: filename parsing.
	report(0, StageParse, 0, uint64(len(descriptors)))
	entries := make([]blocking.Entry, 0, len(descriptors))
	parseResults := make(map[uint64]types.FilenameParseResult, len(descriptors))
	for i, d := range descriptors {
		if d.Size < opts.MinFileSize {
			continue
		}
		result := parser.Parse(d.Path, d.Name)
		parseResults[d.FileID] = result
		entries = append(entries, blocking.Entry{Descriptor: d, Parse: result})
		report(0, StageParse, uint64(i+1), uint64(len(descriptors)))
	}
	if isEmptyStage(len(entries)) {
		return types.NewDuplicateGroups(nil), nil
	}
	if err := ctx.Err(); err != nil {
		return types.DuplicateGroups{}, types.NewCancelledError()
	}

	// Stage 2: blocking.
	report(1, StageBlock, 0, uint64(len(entries)))
	blocks := blocking.Build(entries)
	report(1, StageBlock, uint64(len(entries)), uint64(len(entries)))
	if isEmptyStage(len(blocks)) {
		return types.NewDuplicateGroups(nil), nil
	}
	if err := ctx.Err(); err != nil {
		return types.DuplicateGroups{}, types.NewCancelledError()
	}

	// Stage 3: relation detection (anchor signatures computed lazily
	// inside the detector, per file, on first access within a block).
	contexts := make(map[uint64]relation.FileContext, len(entries))
	descriptorByID := make(map[uint64]types.FileDescriptor, len(descriptors))
	for _, e := range entries {
		contexts[e.Descriptor.FileID] = relation.FileContext{Descriptor: e.Descriptor, Parse: e.Parse}
	}
	for _, d := range descriptors {
		descriptorByID[d.FileID] = d
	}

	detector := relation.NewDetector(contexts, reader, hint, relation.Options{
		EnableExact:            opts.EnableExact,
		EnableVersion:          opts.EnableVersion,
		EnableContainment:      opts.EnableContainment,
		EnableNearDuplicate:    opts.EnableNearDuplicate,
		NearDuplicateThreshold: opts.NearDuplicateThreshold,
		MaxParallelism:         opts.MaxParallelism,
	})

	relationProgress := func(processed, total uint64) {
		report(2, StageRelate, processed, total)
	}
	report(2, StageRelate, 0, uint64(len(blocks)))
	relations, err := detector.Detect(ctx, blocks, relationProgress)
	if err != nil {
		return types.DuplicateGroups{}, err
	}
	if isEmptyStage(len(relations)) {
		return types.NewDuplicateGroups(nil), nil
	}
	if err := ctx.Err(); err != nil {
		return types.DuplicateGroups{}, types.NewCancelledError()
	}

	// Stage 4: group normalization.
	report(3, StageNormalize, 0, uint64(len(relations)))
	normalizerContexts := make(map[uint64]normalizer.FileContext, len(descriptorByID))
	for id, d := range descriptorByID {
		normalizerContexts[id] = normalizer.FileContext{Path: d.Path, Size: d.Size, ModTime: d.ModTime.Unix()}
	}

	groups, err := normalizer.Normalize(relations, normalizerContexts)
	report(3, StageNormalize, uint64(len(relations)), uint64(len(relations)))
	return groups, err
}

// isEmptyStage is the generic "did this stage produce nothing" check
// used to short-circuit the pipeline, regardless of which stage it
// follows.
func isEmptyStage(count int) bool { return count == 0 }
