package parser

import (
	"testing"

	"github.com/ivoronin/novelguard/internal/types"
)

func TestParse_RangeHyphen(t *testing.T) {
	r := Parse("/novels/Overgeared 1-170.txt", "Overgeared 1-170.txt")
	if r.Method != types.ParseMethodPattern {
		t.Fatalf("method = %v, want PATTERN", r.Method)
	}
	if r.Confidence != 0.90 {
		t.Fatalf("confidence = %v, want 0.90", r.Confidence)
	}
	if !r.HasPrimary || r.RangeStart != 1 || r.RangeEnd != 170 {
		t.Fatalf("primary range = %+v, want 1-170", r)
	}
	if r.SeriesTitleNorm != "overgeared" {
		t.Fatalf("title = %q, want %q", r.SeriesTitleNorm, "overgeared")
	}
}

func TestParse_RangeTilde(t *testing.T) {
	r := Parse("", "Solo Leveling 1~270.txt")
	if r.Confidence != 0.85 {
		t.Fatalf("confidence = %v, want 0.85", r.Confidence)
	}
	if r.RangeStart != 1 || r.RangeEnd != 270 {
		t.Fatalf("range = %d-%d, want 1-270", r.RangeStart, r.RangeEnd)
	}
}

func TestParse_SingleRangeWithUnit(t *testing.T) {
	r := Parse("", "Trash of the Count's Family 5권.txt")
	if r.Confidence != 0.80 {
		t.Fatalf("confidence = %v, want 0.80", r.Confidence)
	}
	if r.RangeStart != 5 || r.RangeEnd != 5 || r.RangeUnit != "권" {
		t.Fatalf("unexpected range: %+v", r)
	}
}

func TestParse_MultiSegment(t *testing.T) {
	r := Parse("", "Omniscient Reader 본편 1-1213 외전 1-71.txt")
	if r.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", r.Confidence)
	}
	if len(r.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(r.Segments))
	}
	if r.Segments[0].Kind.Name != "본편" || r.Segments[1].Kind.Name != "외전" {
		t.Fatalf("unexpected segment kinds: %+v", r.Segments)
	}
	// Neither segment is Kind == Primary, but the mirror fields still
	// backfill from Segments[0] so this result can block and compare
	// against other multi-segment parses of the same work.
	if !r.HasPrimary || r.RangeStart != 1 || r.RangeEnd != 1213 {
		t.Fatalf("mirror fields = %+v, want backfilled from Segments[0] (1-1213)", r)
	}
}

func TestParse_HeuristicFallsBackWhenNoPatternMatches(t *testing.T) {
	r := Parse("", "Mushoku Tensei vol.12-15 extras.txt")
	if r.Method != types.ParseMethodHeuristic {
		t.Fatalf("method = %v, want HEURISTIC", r.Method)
	}
	if r.Confidence != 0.50 {
		t.Fatalf("confidence = %v, want 0.50", r.Confidence)
	}
	if r.RangeStart != 12 || r.RangeEnd != 15 {
		t.Fatalf("range = %d-%d, want 12-15", r.RangeStart, r.RangeEnd)
	}
}

func TestParse_FallbackWhenNoRangeAtAll(t *testing.T) {
	r := Parse("", "Reincarnated as a Sword [완결].txt")
	if r.Method != types.ParseMethodFallback {
		t.Fatalf("method = %v, want FALLBACK", r.Method)
	}
	if r.Confidence != 0.20 {
		t.Fatalf("confidence = %v, want 0.20", r.Confidence)
	}
	if !r.IsComplete {
		t.Fatalf("IsComplete = false, want true (완결 tag present)")
	}
}

func TestParse_IsCompleteRequiresExactTagNotSubstring(t *testing.T) {
	// "trend" contains "end" (a recognized complete-tag word) as a
	// substring, but is_complete is exact membership: it must stay false.
	r := Parse("", "Work E 1-50 [trend].txt")
	if r.IsComplete {
		t.Fatalf("IsComplete = true, want false ([trend] is not the tag \"end\")")
	}
}

func TestParse_IsCompleteExactMatch(t *testing.T) {
	r := Parse("", "Work F 1-50 [complete].txt")
	if !r.IsComplete {
		t.Fatalf("IsComplete = false, want true for an exact [complete] tag")
	}
}

func TestParse_EpilogueTagDetected(t *testing.T) {
	r := Parse("", "The Beginning After the End 1-150 (에필로그 포함).txt")
	if !r.IsEpilogueIncluded {
		t.Fatalf("IsEpilogueIncluded = false, want true")
	}
}

func TestParse_TitleNormalizationStripsStatusWordsNotSyllables(t *testing.T) {
	// "전생왕 완결" should drop only the trailing 완결 status word, not
	// mangle the rest of the Hangul title by matching a lone "완" inside
	// some unrelated run of syllables.
	r := Parse("", "전생왕 완결 1-50.txt")
	if r.SeriesTitleNorm != "전생왕" {
		t.Fatalf("title = %q, want %q", r.SeriesTitleNorm, "전생왕")
	}
}

func TestParse_SameSeriesComparison(t *testing.T) {
	a := Parse("", "Overgeared 1-170.txt")
	b := Parse("", "Overgeared 171-337.txt")
	if !a.IsSameSeries(b) {
		t.Fatalf("expected same series for two Overgeared files")
	}
}

func TestParse_NeverFails(t *testing.T) {
	for _, name := range []string{"", ".txt", "   .txt", "日本語のタイトル.txt"} {
		r := Parse("", name)
		if r.Method != types.ParseMethodFallback && r.Method != types.ParseMethodHeuristic && r.Method != types.ParseMethodPattern {
			t.Fatalf("unexpected method for %q: %v", name, r.Method)
		}
	}
}
