// Package parser extracts a normalized series title, episode range
// segments, and tags from a scanned file's name.
//
// # Cascade
//
// Parsing proceeds through four cascading attempts, in order, stopping
// at the first that produces confidence >= 0.7:
//
//	1. Multi-segment pattern   (0.95) - "<title> 본편 1-1213 외전 1-71"
//	2. Range-hyphen pattern    (0.90) - "<title> 1-170"
//	3. Range-tilde pattern     (0.85) - "<title> 1~170"
//	4. Single-range pattern    (0.80) - "<title> 1권"
//
// If none of the four patterns match, a heuristic step (0.50) looks
// for the first "<number>[-~]<number>" anywhere in the name. If that
// also fails, a fallback step (0.20) strips tag-shaped substrings and
// uses the remainder as the title. Parse never fails: it always
// returns a result, degrading to FALLBACK when nothing more specific
// matched.
package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ivoronin/novelguard/internal/types"
)

var (
	patternMultiSegment = regexp.MustCompile(
		`(?i)^(.+?)\s+(본편|외전|에필|후기|1부|2부|3부|4부)\s+(\d+)\s*-\s*(\d+)(?:\s+(본편|외전|에필|후기|1부|2부|3부|4부)\s+(\d+)\s*-\s*(\d+))?(.*)$`,
	)
	patternRangeHyphen = regexp.MustCompile(
		`^(.+?)\s+(\d+)\s*-\s*(\d+)(?:([화권장회])|\(([^)]+)\))?(.*)$`,
	)
	patternRangeTilde = regexp.MustCompile(
		`^(.+?)\s+(\d+)\s*~\s*(\d+)(?:([화권장회])|\(([^)]+)\))?(.*)$`,
	)
	patternSingleRange = regexp.MustCompile(
		`^(.+?)\s+(\d+)([화권장회부])(.*)$`,
	)
	patternTags = regexp.MustCompile(
		`(?i)\(([^)]+)\)|\[([^\]]+)\]|@(\S+)|(완결|완전판|완본|후기|에필|에필로그)`,
	)
	patternHeuristicRange = regexp.MustCompile(`(\d+)\s*[-~]\s*(\d+)`)

	// tagWordsPattern strips recognized status words from a title.
	// Longer alternatives are listed before their prefixes (e.g.
	// "완전판" before "완") because Go's RE2 alternation is
	// leftmost-first, not leftmost-longest: ordering the shorter
	// alternative first would swallow the "전판"/"결" suffix as plain
	// title text instead of matching the whole status word.
	tagWordsPattern = regexp.MustCompile(
		`(?i)(완결|완전판|완본|완|完|후기|에필로그|에필|epilogue|afterword|complete|finished|end)`,
	)

	bracketTagPattern = regexp.MustCompile(`[(\[][^)\]]*[)\]]`)
	atTagPattern       = regexp.MustCompile(`@\S+`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

var completeTags = map[string]struct{}{
	"완": {}, "完": {}, "완결": {}, "완전판": {}, "완본": {},
	"complete": {}, "finished": {}, "end": {},
}

var epilogueTags = map[string]struct{}{
	"후기": {}, "에필": {}, "에필로그": {}, "epilogue": {}, "afterword": {},
}

// MinConfidenceForBlocking is the confidence floor a parse result must
// meet to participate in blocking.
const MinConfidenceForBlocking = 0.7

// Parse extracts a FilenameParseResult from a file's path and name.
// Never fails.
func Parse(path, name string) types.FilenameParseResult {
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	if result, ok := parseWithPatterns(stem); ok {
		// Every pattern in the cascade carries confidence >= 0.7.
		return result
	}

	heuristic, heuristicOK := parseHeuristic(stem)
	fallback := parseFallback(stem)

	if heuristicOK && heuristic.Confidence > fallback.Confidence {
		return heuristic
	}
	return fallback
}

func parseWithPatterns(stem string) (types.FilenameParseResult, bool) {
	if m := patternMultiSegment.FindStringSubmatch(stem); m != nil {
		if result, ok := buildMultiSegment(m); ok {
			return result, true
		}
	}
	if m := patternRangeHyphen.FindStringSubmatch(stem); m != nil {
		if result, ok := buildSingleSegmentRange(m, 0.90); ok {
			return result, true
		}
	}
	if m := patternRangeTilde.FindStringSubmatch(stem); m != nil {
		if result, ok := buildSingleSegmentRange(m, 0.85); ok {
			return result, true
		}
	}
	if m := patternSingleRange.FindStringSubmatch(stem); m != nil {
		if result, ok := buildSingleValueRange(m); ok {
			return result, true
		}
	}
	return types.FilenameParseResult{}, false
}

func buildMultiSegment(m []string) (types.FilenameParseResult, bool) {
	title := strings.TrimSpace(m[1])
	start1, ok1 := parseUint(m[3])
	end1, ok2 := parseUint(m[4])
	if !ok1 || !ok2 || start1 > end1 {
		return types.FilenameParseResult{}, false
	}

	segments := []types.RangeSegment{{Kind: types.Named(m[2]), Start: start1, End: end1}}

	if m[5] != "" {
		start2, ok3 := parseUint(m[6])
		end2, ok4 := parseUint(m[7])
		if ok3 && ok4 && start2 <= end2 {
			segments = append(segments, types.RangeSegment{Kind: types.Named(m[5]), Start: start2, End: end2})
		}
	}

	tail := m[8]
	result := newResult(title, segments, tail, 0.95)
	return result, true
}

func buildSingleSegmentRange(m []string, confidence float64) (types.FilenameParseResult, bool) {
	title := strings.TrimSpace(m[1])
	start, ok1 := parseUint(m[2])
	end, ok2 := parseUint(m[3])
	if !ok1 || !ok2 || start > end {
		return types.FilenameParseResult{}, false
	}

	unit := m[4]
	tagContent := m[5]
	tail := tagContent + m[6]

	segments := []types.RangeSegment{{Kind: types.Primary, Start: start, End: end, Unit: unit}}
	result := newResult(title, segments, tail, confidence)
	return result, true
}

func buildSingleValueRange(m []string) (types.FilenameParseResult, bool) {
	title := strings.TrimSpace(m[1])
	n, ok := parseUint(m[2])
	if !ok {
		return types.FilenameParseResult{}, false
	}
	unit := m[3]
	tail := m[4]

	segments := []types.RangeSegment{{Kind: types.Primary, Start: n, End: n, Unit: unit}}
	result := newResult(title, segments, tail, 0.80)
	return result, true
}

func parseHeuristic(stem string) (types.FilenameParseResult, bool) {
	loc := patternHeuristicRange.FindStringSubmatchIndex(stem)
	if loc == nil {
		return types.FilenameParseResult{}, false
	}
	m := patternHeuristicRange.FindStringSubmatch(stem)
	start, ok1 := parseUint(m[1])
	end, ok2 := parseUint(m[2])
	if !ok1 || !ok2 || start > end {
		return types.FilenameParseResult{}, false
	}

	titlePart := strings.TrimSpace(stem[:loc[0]])
	titleNorm := normalizeSeriesTitle(titlePart)
	if titlePart == "" {
		titleNorm = strings.ToLower(stem)
	}

	segments := []types.RangeSegment{{Kind: types.Primary, Start: start, End: end}}
	tags := extractTags(stem)

	return types.FilenameParseResult{
		SeriesTitleNorm:    titleNorm,
		Segments:           segments,
		HasPrimary:         true,
		RangeStart:         start,
		RangeEnd:           end,
		Tags:               tags,
		IsComplete:         hasTag(tags, completeTags),
		IsEpilogueIncluded: hasAnyTag(tags, epilogueTags),
		Confidence:         0.50,
		Method:             types.ParseMethodHeuristic,
	}, true
}

func parseFallback(stem string) types.FilenameParseResult {
	cleaned := bracketTagPattern.ReplaceAllString(stem, "")
	cleaned = atTagPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = stem
	}

	titleNorm := normalizeSeriesTitle(cleaned)
	tags := extractTags(stem)

	return types.FilenameParseResult{
		SeriesTitleNorm:    titleNorm,
		Tags:               tags,
		IsComplete:         hasTag(tags, completeTags),
		IsEpilogueIncluded: hasAnyTag(tags, epilogueTags),
		Confidence:         0.20,
		Method:             types.ParseMethodFallback,
	}
}

// newResult builds a PATTERN-method result from a matched title,
// segment list, and trailing tag-bearing text.
//
// HasPrimary/RangeStart/RangeEnd/RangeUnit mirror segments[0]
// regardless of its Kind: the multi-segment pattern never captures an
// unnamed segment, so gating the mirror fields on Kind == Primary would
// drop every multi-segment result from blocking and containment. The
// first captured segment is the one blocking keys off; the relation
// detector compares every segment kind the two files share.
func newResult(title string, segments []types.RangeSegment, tail string, confidence float64) types.FilenameParseResult {
	titleNorm := normalizeSeriesTitle(title)
	tags := extractTags(tail)

	result := types.FilenameParseResult{
		SeriesTitleNorm:    titleNorm,
		Segments:           segments,
		Tags:               tags,
		IsComplete:         hasTag(tags, completeTags),
		IsEpilogueIncluded: hasAnyTag(tags, epilogueTags),
		Confidence:         confidence,
		Method:             types.ParseMethodPattern,
	}

	if len(segments) > 0 {
		result.HasPrimary = true
		result.RangeStart = segments[0].Start
		result.RangeEnd = segments[0].End
		result.RangeUnit = segments[0].Unit
	}

	return result
}

func parseUint(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// normalizeSeriesTitle strips bracketed/@ tags and recognized status
// words (via word-alternation, never a character class — a character
// class over Hangul jamo would delete individual syllables out of
// unrelated titles instead of whole status words), collapses
// whitespace, and lowercases.
func normalizeSeriesTitle(title string) string {
	normalized := bracketTagPattern.ReplaceAllString(title, "")
	normalized = atTagPattern.ReplaceAllString(normalized, "")
	normalized = tagWordsPattern.ReplaceAllString(normalized, "")
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)
	return strings.ToLower(normalized)
}

// extractTags collects tag-shaped substrings from text: (...), [...],
// @token, and bare status words. Every tag is stored lowercased, so
// lookups against the lowercase tag sets are case-insensitive.
func extractTags(text string) map[string]struct{} {
	tags := make(map[string]struct{})
	for _, m := range patternTags.FindAllStringSubmatch(text, -1) {
		var tag string
		switch {
		case m[1] != "":
			tag = m[1]
		case m[2] != "":
			tag = m[2]
		case m[3] != "":
			tag = m[3]
		case m[4] != "":
			tag = m[4]
		default:
			continue
		}
		tags[strings.ToLower(tag)] = struct{}{}
	}
	return tags
}

// hasTag reports whether any collected tag is, verbatim, one of the
// recognized words in set. Exact membership: used for IsComplete,
// where a tag like "trend" must not be mistaken for "end".
func hasTag(tags map[string]struct{}, set map[string]struct{}) bool {
	for tag := range tags {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}

// hasAnyTag reports whether any collected tag contains one of the
// recognized words in set. Containment, not equality: a bracketed tag
// often bundles a status word with surrounding text (e.g. "에필로그
// 포함", "epilogue included"). Used only for IsEpilogueIncluded.
func hasAnyTag(tags map[string]struct{}, set map[string]struct{}) bool {
	for tag := range tags {
		for word := range set {
			if strings.Contains(tag, word) {
				return true
			}
		}
	}
	return false
}
