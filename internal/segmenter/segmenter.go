package segmenter

import (
	"sort"

	"github.com/google/uuid"

	"github.com/callsight/callsight/internal/types"
)

// DefaultGapThreshold is the silence gap, in seconds, that always starts a
// new conversation. Sales floors idle between walk-ups far longer than this.
const DefaultGapThreshold = 30.0

// Segmenter splits a full call transcript into discrete customer
// conversations using a hybrid of time gaps and speaker turns.
type Segmenter struct {
	// GapThreshold alone splits regardless of speaker. A speaker change
	// combined with a gap above half the threshold also splits: a new
	// customer usually answers faster than the full idle gap but never
	// mid-sentence.
	GapThreshold float64
}

// New returns a segmenter with the given gap threshold in seconds.
// Zero or negative falls back to the default.
func New(gapThreshold float64) *Segmenter {
	if gapThreshold <= 0 {
		gapThreshold = DefaultGapThreshold
	}
	return &Segmenter{GapThreshold: gapThreshold}
}

// Split divides the word stream into conversations. salesRep identifies the
// rep's speaker tag; when empty, the speaker with the most words is used.
// Each conversation owns its word slice, time bounds, speaker set and counts.
func (s *Segmenter) Split(words []types.Word, salesRep string) []types.Conversation {
	if len(words) == 0 {
		return nil
	}
	if salesRep == "" {
		salesRep = DominantSpeaker(words)
	}

	var groups [][]types.Word
	current := []types.Word{words[0]}
	for i := 1; i < len(words); i++ {
		if s.boundary(words[i-1], words[i]) {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, words[i])
	}
	groups = append(groups, current)

	conversations := make([]types.Conversation, 0, len(groups))
	for i, group := range groups {
		conversations = append(conversations, build(group, i+1, salesRep))
	}
	return conversations
}

// boundary reports whether a new conversation starts between prev and next.
func (s *Segmenter) boundary(prev, next types.Word) bool {
	gap := next.Start - prev.End
	if gap > s.GapThreshold {
		return true
	}
	if next.Speaker != prev.Speaker && gap > s.GapThreshold/2 {
		return true
	}
	return false
}

func build(words []types.Word, number int, salesRep string) types.Conversation {
	speakerSet := map[string]bool{}
	for _, w := range words {
		if w.Speaker != "" {
			speakerSet[w.Speaker] = true
		}
	}
	speakers := make([]string, 0, len(speakerSet))
	for sp := range speakerSet {
		speakers = append(speakers, sp)
	}
	sort.Strings(speakers)

	start := words[0].Start
	end := words[len(words)-1].End

	return types.Conversation{
		ID:                 uuid.New().String(),
		ConversationNumber: number,
		StartTime:          start,
		EndTime:            end,
		Speakers:           speakers,
		SalesRepSpeaker:    salesRep,
		Words:              words,
		WordCount:          len(words),
		DurationSeconds:    end - start,
	}
}

// DominantSpeaker returns the speaker tag with the most words. On a sales
// call that is the rep.
func DominantSpeaker(words []types.Word) string {
	counts := map[string]int{}
	for _, w := range words {
		if w.Speaker != "" {
			counts[w.Speaker]++
		}
	}
	best, bestCount := "", -1
	for sp, n := range counts {
		if n > bestCount || (n == bestCount && sp < best) {
			best, bestCount = sp, n
		}
	}
	return best
}
