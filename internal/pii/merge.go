package pii

import (
	"sort"

	"github.com/callsight/callsight/internal/types"
)

// MaxRanges caps the merged range list. ffmpeg filter chains degrade badly
// past a few hundred expressions, so ranges beyond the cap are coalesced
// pairwise until the list fits.
const MaxRanges = 180

// Merge sorts the raw ranges ascending by start and folds overlapping or
// touching neighbours together. A candidate merges into the previous range
// when candidate.Start <= previous.End, so [0,2] and [2,5] become [0,5].
// The result is sorted, mutually non-overlapping and at most MaxRanges long.
func Merge(raw []types.PiiRange) []types.PiiRange {
	if len(raw) == 0 {
		return nil
	}

	sorted := make([]types.PiiRange, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	merged := make([]types.PiiRange, 0, len(sorted))
	merged = append(merged, sorted[0])
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}

	for len(merged) > MaxRanges {
		merged = coalescePairs(merged)
	}
	return merged
}

// coalescePairs halves the list by joining adjacent pairs. Each joined range
// spans from the earlier start to the later end, so coverage only grows.
func coalescePairs(ranges []types.PiiRange) []types.PiiRange {
	out := make([]types.PiiRange, 0, (len(ranges)+1)/2)
	for i := 0; i < len(ranges); i += 2 {
		if i+1 >= len(ranges) {
			out = append(out, ranges[i])
			break
		}
		a, b := ranges[i], ranges[i+1]
		joined := types.PiiRange{
			Start: a.Start,
			End:   b.End,
			Label: a.Label,
		}
		if a.End > joined.End {
			joined.End = a.End
		}
		out = append(out, joined)
	}
	return out
}

// CountOverlapping returns how many ranges intersect the window [start, end].
func CountOverlapping(ranges []types.PiiRange, start, end float64) int {
	count := 0
	for _, r := range ranges {
		if r.Start < end && r.End > start {
			count++
		}
	}
	return count
}

// FlagRedactedWords marks every word whose time span intersects a merged
// range. Returns the number of words flagged.
func FlagRedactedWords(words []types.Word, ranges []types.PiiRange) int {
	flagged := 0
	for i := range words {
		for _, r := range ranges {
			if words[i].Start < r.End && words[i].End > r.Start {
				if !words[i].Redacted {
					words[i].Redacted = true
					flagged++
				}
				break
			}
		}
	}
	return flagged
}
