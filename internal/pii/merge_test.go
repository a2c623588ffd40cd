package pii

import (
	"math"
	"testing"

	"github.com/callsight/callsight/internal/types"
)

func r(start, end float64) types.PiiRange {
	return types.PiiRange{Start: start, End: end, Label: "name"}
}

func TestMerge_Empty(t *testing.T) {
	if got := Merge(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestMerge_SortsAndMergesOverlaps(t *testing.T) {
	in := []types.PiiRange{r(5, 7), r(0, 2), r(1, 3), r(10, 12)}
	got := Merge(in)

	want := []types.PiiRange{r(0, 3), r(5, 7), r(10, 12)}
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].Start != want[i].Start || got[i].End != want[i].End {
			t.Errorf("range %d: expected [%v,%v], got [%v,%v]",
				i, want[i].Start, want[i].End, got[i].Start, got[i].End)
		}
	}
}

func TestMerge_TouchingRangesMerge(t *testing.T) {
	got := Merge([]types.PiiRange{r(0, 2), r(2, 5)})

	if len(got) != 1 {
		t.Fatalf("expected touching ranges to merge, got %v", got)
	}
	if got[0].Start != 0 || got[0].End != 5 {
		t.Errorf("expected [0,5], got [%v,%v]", got[0].Start, got[0].End)
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	in := []types.PiiRange{r(5, 7), r(0, 2)}
	Merge(in)

	if in[0].Start != 5 || in[1].Start != 0 {
		t.Errorf("input slice was reordered: %v", in)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	in := []types.PiiRange{r(3, 4), r(0, 2), r(2, 5), r(8, 9), r(8.5, 10)}
	once := Merge(in)
	twice := Merge(once)

	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %v vs %v", once, twice)
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("range %d differs after re-merge: %v vs %v", i, once[i], twice[i])
		}
	}
}

func TestMerge_CoalescesPastCap(t *testing.T) {
	// 400 disjoint one-second ranges two seconds apart.
	var in []types.PiiRange
	for i := 0; i < 400; i++ {
		start := float64(i * 3)
		in = append(in, r(start, start+1))
	}

	got := Merge(in)
	if len(got) > MaxRanges {
		t.Fatalf("expected at most %d ranges, got %d", MaxRanges, len(got))
	}

	// Coverage must be a superset: every original range stays inside some
	// coalesced range.
	for _, orig := range in {
		covered := false
		for _, c := range got {
			if c.Start <= orig.Start && c.End >= orig.End {
				covered = true
				break
			}
		}
		if !covered {
			t.Fatalf("original range [%v,%v] lost after coalescing", orig.Start, orig.End)
		}
	}

	// And the result must still be sorted and non-overlapping.
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].End {
			t.Errorf("ranges %d and %d overlap after coalescing: %v %v",
				i-1, i, got[i-1], got[i])
		}
	}
}

func TestCountOverlapping(t *testing.T) {
	ranges := []types.PiiRange{r(0, 1), r(2, 3), r(5, 8)}

	tests := []struct {
		name       string
		start, end float64
		want       int
	}{
		{"no overlap", 3.5, 4.5, 0},
		{"one overlap", 0.5, 1.5, 1},
		{"spans two", 2.5, 6, 2},
		{"touching only does not count", 1, 2, 0},
		{"covers all", 0, 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountOverlapping(ranges, tt.start, tt.end); got != tt.want {
				t.Errorf("CountOverlapping(%v,%v) = %d, want %d", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestFlagRedactedWords(t *testing.T) {
	words := []types.Word{
		{Text: "John", Start: 0.0, End: 0.4},
		{Text: "Smith", Start: 0.4, End: 0.8},
		{Text: "here", Start: 0.9, End: 1.2},
	}
	n := FlagRedactedWords(words, []types.PiiRange{r(0.0, 0.8)})

	if n != 2 {
		t.Errorf("expected 2 flagged words, got %d", n)
	}
	if !words[0].Redacted || !words[1].Redacted {
		t.Error("expected words covering the range to be flagged")
	}
	if words[2].Redacted {
		t.Error("word outside the range must not be flagged")
	}
}

func TestMerge_CoalesceKeepsMinStartMaxEnd(t *testing.T) {
	var in []types.PiiRange
	for i := 0; i < 2*MaxRanges; i++ {
		start := float64(i * 2)
		in = append(in, r(start, start+1))
	}
	got := Merge(in)

	if got[0].Start != 0 {
		t.Errorf("expected first coalesced range to keep min start 0, got %v", got[0].Start)
	}
	last := got[len(got)-1]
	wantEnd := float64((2*MaxRanges-1)*2 + 1)
	if math.Abs(last.End-wantEnd) > 1e-9 {
		t.Errorf("expected last coalesced range to keep max end %v, got %v", wantEnd, last.End)
	}
}
