// Package novelguard detects duplicate, superseded, and contained
// copies of serialized text (novels, manga, scanlations) across a
// scanned file set. Analyze is the library's single synchronous entry
// point; the CLI in cmd/novelguard is one caller among possible others.
package novelguard

import (
	"context"

	"github.com/ivoronin/novelguard/internal/fingerprint"
	"github.com/ivoronin/novelguard/internal/pipeline"
	"github.com/ivoronin/novelguard/internal/types"
)

// FileReader reads a byte window from a file without requiring the
// whole file in memory. Implemented by internal/reader for the CLI;
// callers embedding the engine elsewhere provide their own.
type FileReader interface {
	ReadWindow(path string, offset, length int64) ([]byte, error)
}

// EncodingHint resolves a file_id to its IANA encoding name, when
// known. Absent a hint, the fingerprinter treats a file's bytes as
// opaque and never normalizes them.
type EncodingHint interface {
	Lookup(fileID uint64) (string, bool)
}

// ProgressFunc is called as Analyze advances through its stages.
// stageIndex is 0-based in pipeline order (parse, block, relate,
// normalize); processed/total describe progress within that stage.
type ProgressFunc func(stageIndex int, stageName string, processed, total uint64)

// Options configures which relation checks run and how aggressively.
type Options struct {
	// EnableExact turns on the tiered byte-identical clique check.
	EnableExact bool
	// EnableVersion turns on the same-start/different-end check.
	EnableVersion bool
	// EnableContainment turns on the strict-subrange check.
	EnableContainment bool
	// EnableNearDuplicate turns on the supplemental Jaccard-similarity
	// check, used only when neither Containment nor Version fired.
	EnableNearDuplicate bool
	// NearDuplicateThreshold is the minimum Jaccard similarity for a
	// NearDuplicateRelation to be emitted. Defaults to 0.85 when zero.
	NearDuplicateThreshold float64
	// MinFileSize discards files smaller than this before parsing;
	// files this small carry too little content to fingerprint
	// meaningfully. Defaults to fingerprint.MinFileSize when zero.
	MinFileSize int64
	// ConfidenceThreshold is reserved for future cascade tuning; the
	// filename parser's own MinConfidenceForBlocking governs blocking
	// eligibility today.
	ConfidenceThreshold float64
	// MaxParallelism bounds concurrent BlockingGroup workers during
	// relation detection. Defaults to 1 when zero.
	MaxParallelism int
}

const defaultNearDuplicateThreshold = 0.85

// Analyze runs the full five-stage pipeline over descriptors and
// returns the final disjoint DuplicateGroups. Cancelling ctx aborts
// the run with no partial result; an InvariantViolated error means a
// normalization bug, not bad input.
func Analyze(
	ctx context.Context,
	descriptors []types.FileDescriptor,
	opts Options,
	reader FileReader,
	hint EncodingHint,
	progress ProgressFunc,
) (types.DuplicateGroups, error) {
	if opts.NearDuplicateThreshold == 0 {
		opts.NearDuplicateThreshold = defaultNearDuplicateThreshold
	}
	if opts.MaxParallelism < 1 {
		opts.MaxParallelism = 1
	}
	if opts.MinFileSize == 0 {
		opts.MinFileSize = fingerprint.MinFileSize
	}

	pipelineOpts := pipeline.Options{
		EnableExact:            opts.EnableExact,
		EnableVersion:          opts.EnableVersion,
		EnableContainment:      opts.EnableContainment,
		EnableNearDuplicate:    opts.EnableNearDuplicate,
		NearDuplicateThreshold: opts.NearDuplicateThreshold,
		MinFileSize:            opts.MinFileSize,
		ConfidenceThreshold:    opts.ConfidenceThreshold,
		MaxParallelism:         opts.MaxParallelism,
	}

	var pipelineProgress pipeline.ProgressFunc
	if progress != nil {
		pipelineProgress = func(stageIndex int, stageName string, processed, total uint64) {
			progress(stageIndex, stageName, processed, total)
		}
	}

	return pipeline.Run(ctx, descriptors, pipelineOpts, reader, hint, pipelineProgress)
}
