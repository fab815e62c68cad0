package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ivoronin/novelguard"
	"github.com/ivoronin/novelguard/internal/progress"
	"github.com/ivoronin/novelguard/internal/reader"
	"github.com/ivoronin/novelguard/internal/scanner"
	"github.com/ivoronin/novelguard/internal/types"
)

// analyzeOptions holds CLI flags for the analyze command.
type analyzeOptions struct {
	minSizeStr             string
	excludes               []string
	workers                int
	noProgress             bool
	cacheFile              string
	encoding               string
	enableExact            bool
	enableVersion          bool
	enableContainment      bool
	enableNearDuplicate    bool
	nearDuplicateThreshold float64
}

// newAnalyzeCmd creates the analyze subcommand.
func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{
		minSizeStr:          "1",
		workers:             runtime.NumCPU(),
		enableExact:         true,
		enableVersion:       true,
		enableContainment:   true,
		enableNearDuplicate: false,
	}

	cmd := &cobra.Command{
		Use:   "analyze [paths...]",
		Short: "Scan paths and report duplicate, superseded, and contained text files",
		Long: `Scans for duplicate, superseded, and contained copies of serialized text
and reports them as JSON groups, each naming a recommended keeper.

Unlike a byte-identical deduplicator, analyze also recognizes partial
overlaps (one file containing another's chapters) and version
supersession (a later, larger release of the same range) using
filename-range parsing corroborated by content anchors.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runAnalyze(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to window-read cache file (enables caching)")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "IANA encoding name applied to every scanned file (e.g. utf-8, euc-kr); omit to skip text normalization")
	cmd.Flags().BoolVar(&opts.enableExact, "exact", opts.enableExact, "Detect byte-identical duplicates")
	cmd.Flags().BoolVar(&opts.enableVersion, "version", opts.enableVersion, "Detect same-range, different-extent versions")
	cmd.Flags().BoolVar(&opts.enableContainment, "containment", opts.enableContainment, "Detect one file's range containing another's")
	cmd.Flags().BoolVar(&opts.enableNearDuplicate, "near-duplicate", opts.enableNearDuplicate, "Detect high-similarity near-duplicates (supplemental, off by default)")
	cmd.Flags().Float64Var(&opts.nearDuplicateThreshold, "near-duplicate-threshold", 0.85, "Minimum Jaccard similarity for --near-duplicate")

	return cmd
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Clears progress bar line before printing to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// groupOutput is the JSON shape printed for each DuplicateGroup;
// kept separate from types.DuplicateGroup so the engine's core model
// carries no encoding tags of its own.
type groupOutput struct {
	GroupID             uint32         `json:"group_id"`
	DuplicateType       string         `json:"duplicate_type"`
	FileIDs             []uint64       `json:"file_ids"`
	RecommendedKeeperID uint64         `json:"recommended_keeper_id"`
	Confidence          float64        `json:"confidence"`
	Evidence            map[string]any `json:"evidence"`
	Paths               map[uint64]string `json:"paths"`
}

// stageProgress adapts the engine's stage callback to the progress
// package's fmt.Stringer-based Bar.
type stageProgress struct {
	stage     string
	processed uint64
	total     uint64
}

func (s *stageProgress) String() string {
	return fmt.Sprintf("%s: %d/%d", s.stage, s.processed, s.total)
}

// runAnalyze executes the analyze pipeline: scan → Analyze → report.
func runAnalyze(paths []string, opts *analyzeOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	showProgress := !opts.noProgress

	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	// Phase 1: scan filesystem.
	descriptorPtrs := scanner.New(paths, minSize, opts.excludes, opts.workers, showProgress, errors).Run()
	if len(descriptorPtrs) == 0 {
		return nil
	}
	descriptors := make([]types.FileDescriptor, len(descriptorPtrs))
	for i, d := range descriptorPtrs {
		descriptors[i] = *d
	}

	// Phase 2: open window cache (if enabled) and build the reader.
	windowCache, err := reader.OpenCache(opts.cacheFile)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = windowCache.Close() }()

	fileReader := reader.NewCachedFileReader(windowCache, statWindow)

	var hint novelguard.EncodingHint
	if opts.encoding != "" {
		encodings := make(map[uint64]string, len(descriptors))
		for _, d := range descriptors {
			encodings[d.FileID] = opts.encoding
		}
		hint = reader.NewStaticEncodingHint(encodings)
	} else {
		hint = reader.NewStaticEncodingHint(nil)
	}

	bar := progress.New(showProgress, -1)

	progressFunc := func(stageIndex int, stageName string, processed, total uint64) {
		bar.Describe(&stageProgress{stage: stageName, processed: processed, total: total})
	}

	// Phase 3: analyze.
	groups, err := novelguard.Analyze(context.Background(), descriptors, novelguard.Options{
		EnableExact:            opts.enableExact,
		EnableVersion:          opts.enableVersion,
		EnableContainment:      opts.enableContainment,
		EnableNearDuplicate:    opts.enableNearDuplicate,
		NearDuplicateThreshold: opts.nearDuplicateThreshold,
		MinFileSize:            minSize,
		MaxParallelism:         opts.workers,
	}, fileReader, hint, progressFunc)
	bar.Finish(&stageProgress{stage: "done", processed: uint64(groups.Len()), total: uint64(groups.Len())})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	pathByID := make(map[uint64]string, len(descriptors))
	for _, d := range descriptors {
		pathByID[d.FileID] = d.Path
	}

	outputs := make([]groupOutput, 0, groups.Len())
	for _, g := range groups.Items() {
		paths := make(map[uint64]string, len(g.FileIDs))
		for _, id := range g.FileIDs {
			paths[id] = pathByID[id]
		}
		outputs = append(outputs, groupOutput{
			GroupID:             g.GroupID,
			DuplicateType:       g.DuplicateType.String(),
			FileIDs:             g.FileIDs,
			RecommendedKeeperID: g.RecommendedKeeperID,
			Confidence:          g.Confidence,
			Evidence:            g.Evidence,
			Paths:               paths,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(outputs)
}
