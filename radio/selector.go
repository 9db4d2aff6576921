package radio

import (
	"github.com/garry/tunesync/config"
	"github.com/garry/tunesync/library"
)

// SelectionKind tells the generator what a selection attempt produced
type SelectionKind int

const (
	// Found means a track was picked and marked played
	Found SelectionKind = iota
	// Exhausted means the category has no eligible track left; reset it and retry
	Exhausted
	// FatalExhaustion means the category cannot fill the slot even after a reset
	FatalExhaustion
)

func (k SelectionKind) String() string {
	switch k {
	case Found:
		return "found"
	case Exhausted:
		return "exhausted"
	case FatalExhaustion:
		return "fatal_exhaustion"
	default:
		return "unknown"
	}
}

// MaxAttempts bounds the selection attempts per slot: the strict pass and one retry after a reset
const MaxAttempts = 2

// Selection is the outcome of one selection attempt
type Selection struct {
	Kind  SelectionKind
	Track *library.Track
	// SpacingRelaxed is set when the retry had to ignore the artist repeat interval
	SpacingRelaxed bool
}

// Selector picks the track for each slot from the category pools
type Selector struct {
	pools     Pools
	intervals map[string]int
}

// NewSelector creates a selector over pools using each category's artist repeat interval
func NewSelector(pools Pools, categories []config.Category) *Selector {
	intervals := make(map[string]int, len(categories))
	for _, category := range categories {
		intervals[category.Name] = category.ArtistRepeat
	}
	return &Selector{pools: pools, intervals: intervals}
}

// Select picks the least recently played unplayed track of category whose
// artist is not inside the category's repeat window. Attempt 0 reports
// Exhausted when nothing qualifies. Attempt 1 runs after the caller reset the
// pool: it reports FatalExhaustion for an empty pool and otherwise falls back
// to ignoring spacing once.
func (s *Selector) Select(category string, slot int, history History, attempt int) Selection {
	if attempt >= MaxAttempts {
		return Selection{Kind: FatalExhaustion}
	}

	unplayed := s.pools.Get(category).Unplayed()
	if len(unplayed) == 0 {
		if attempt == 0 {
			return Selection{Kind: Exhausted}
		}
		return Selection{Kind: FatalExhaustion}
	}

	interval := s.intervals[category]
	var eligible []*library.Track
	for _, track := range unplayed {
		if history.Blocks(track.CommonName(), category, slot, interval) {
			continue
		}
		eligible = append(eligible, track)
	}

	relaxed := false
	if len(eligible) == 0 {
		if attempt == 0 {
			return Selection{Kind: Exhausted}
		}
		eligible = unplayed
		relaxed = true
	}

	track := leastRecentlyPlayed(eligible)
	track.Played = true
	return Selection{Kind: Found, Track: track, SpacingRelaxed: relaxed}
}

// leastRecentlyPlayed returns the track with the oldest last play. Never
// played tracks come first and pool order breaks ties.
func leastRecentlyPlayed(tracks []*library.Track) *library.Track {
	best := tracks[0]
	for _, track := range tracks[1:] {
		if playedBefore(track, best) {
			best = track
		}
	}
	return best
}

func playedBefore(a, b *library.Track) bool {
	switch {
	case a.LastPlayDT == nil:
		return b.LastPlayDT != nil
	case b.LastPlayDT == nil:
		return false
	default:
		return a.LastPlayDT.Before(*b.LastPlayDT)
	}
}
