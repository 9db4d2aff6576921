package radio

import (
	"github.com/garry/tunesync/library"
)

// recentPlays is how many of the latest plays are matched against the previous playlist
const recentPlays = 3

// LastPlay is the slot an artist was last scheduled in and its category
type LastPlay struct {
	Index    int
	Category string
}

// History maps artist common names to their last play in the current run
type History map[string]LastPlay

// Record notes that artist was scheduled in slot for category
func (h History) Record(artist string, slot int, category string) {
	h[artist] = LastPlay{Index: slot, Category: category}
}

// Blocks reports whether artist was played in category less than interval slots before slot
func (h History) Blocks(artist, category string, slot, interval int) bool {
	last, ok := h[artist]
	if !ok || last.Category != category {
		return false
	}
	return slot-last.Index < interval
}

// Clone copies the history
func (h History) Clone() History {
	clone := make(History, len(h))
	for artist, last := range h {
		clone[artist] = last
	}
	return clone
}

// Continuity is where the listener is estimated to have stopped in their latest playlist
type Continuity struct {
	Playlist *library.Playlist
	// StopPoint is the 1-based position of the last heard entry, 0 when it could not be found
	StopPoint int
}

// Found reports whether a stop point was located
func (c *Continuity) Found() bool {
	return c != nil && c.StopPoint > 0
}

// LastHeard returns the entry at the stop point
func (c *Continuity) LastHeard() *library.PlaylistEntry {
	if !c.Found() || c.StopPoint > len(c.Playlist.Entries) {
		return nil
	}
	return &c.Playlist.Entries[c.StopPoint-1]
}

// FindStopPoint looks for the latest plays (newest first, as returned by the
// store) inside entries. It tries the last three plays in listening order,
// then the last two, then the last one, and returns the 1-based position of
// the final matched entry. The last occurrence in the playlist wins. It
// returns 0 when nothing matches.
func FindStopPoint(entries []library.PlaylistEntry, recent []library.Track) int {
	if len(recent) > recentPlays {
		recent = recent[:recentPlays]
	}

	// oldest first
	played := make([]uint, len(recent))
	for i, track := range recent {
		played[len(recent)-1-i] = track.ID
	}

	for size := len(played); size > 0; size-- {
		run := played[len(played)-size:]
		for end := len(entries) - 1; end >= size-1; end-- {
			if matchesRun(entries, end, run) {
				return end + 1
			}
		}
	}

	return 0
}

func matchesRun(entries []library.PlaylistEntry, end int, run []uint) bool {
	start := end - len(run) + 1
	for i, id := range run {
		if entries[start+i].TrackID != id {
			return false
		}
	}
	return true
}

// Initialize seeds the artist history from the heard prefix of the previous
// playlist. Entry i (0-based) before stopPoint is placed at slot
// -(stopPoint-i), so the last heard entry sits at -1.
func Initialize(entries []library.PlaylistEntry, stopPoint int) History {
	history := make(History)
	if stopPoint > len(entries) {
		stopPoint = len(entries)
	}
	for i := 0; i < stopPoint; i++ {
		entry := entries[i]
		artist := entry.ArtistCommonName
		if artist == "" {
			artist = (&library.Track{Artist: entry.Artist}).CommonName()
		}
		history.Record(artist, -(stopPoint - i), entry.Category)
	}
	return history
}

// Session carries the continuity a user confirmed into one generation request
type Session struct {
	Username   string
	Continuity *Continuity
	Confirmed  bool
}

// History returns the seeded artist history, empty unless the user confirmed a found stop point
func (s *Session) History() History {
	if s == nil || !s.Confirmed || !s.Continuity.Found() {
		return make(History)
	}
	return Initialize(s.Continuity.Playlist.Entries, s.Continuity.StopPoint)
}
