package radio

import (
	"sort"

	"github.com/garry/tunesync/library"
)

// Pool owns the in-memory tracks of one category for a single generation run
type Pool struct {
	category string
	tracks   []*library.Track
}

// NewPool creates an empty pool for category
func NewPool(category string) *Pool {
	return &Pool{category: category}
}

// Category returns the category the pool belongs to
func (p *Pool) Category() string {
	return p.category
}

// Add appends a track and assigns it to the pool's category
func (p *Pool) Add(track *library.Track) {
	track.Category = p.category
	p.tracks = append(p.tracks, track)
}

// Remove takes the track with id out of the pool and returns it, or nil when absent
func (p *Pool) Remove(id uint) *library.Track {
	for i, track := range p.tracks {
		if track.ID == id {
			p.tracks = append(p.tracks[:i], p.tracks[i+1:]...)
			return track
		}
	}
	return nil
}

// Len returns the number of tracks in the pool
func (p *Pool) Len() int {
	return len(p.tracks)
}

// Tracks returns a snapshot of the pool's tracks in pool order
func (p *Pool) Tracks() []*library.Track {
	return append([]*library.Track(nil), p.tracks...)
}

// Unplayed returns the tracks not yet picked in this run, in pool order
func (p *Pool) Unplayed() []*library.Track {
	var unplayed []*library.Track
	for _, track := range p.tracks {
		if !track.Played {
			unplayed = append(unplayed, track)
		}
	}
	return unplayed
}

// ResetPlayed gives the category a fresh pool
func (p *Pool) ResetPlayed() {
	for _, track := range p.tracks {
		track.Played = false
	}
}

// Pools indexes the working catalog by category
type Pools map[string]*Pool

// NewPools groups tracks by their stored category. Tracks are copied, so
// mutations never reach the caller's slice.
func NewPools(tracks []library.Track) Pools {
	pools := make(Pools)
	for i := range tracks {
		track := tracks[i]
		pools.Get(track.Category).Add(&track)
	}
	return pools
}

// Get returns the pool of category, creating an empty one when needed
func (ps Pools) Get(category string) *Pool {
	pool, ok := ps[category]
	if !ok {
		pool = NewPool(category)
		ps[category] = pool
	}
	return pool
}

// Move transfers track from its current pool into the pool of category to
func (ps Pools) Move(track *library.Track, to string) {
	if track.Category == to {
		return
	}
	if from, ok := ps[track.Category]; ok {
		from.Remove(track.ID)
	}
	ps.Get(to).Add(track)
}

// Counts returns the number of tracks per category
func (ps Pools) Counts() map[string]int {
	counts := make(map[string]int, len(ps))
	for category, pool := range ps {
		counts[category] = pool.Len()
	}
	return counts
}

// Clone deep-copies the pools so a preview can mutate them freely
func (ps Pools) Clone() Pools {
	clone := make(Pools, len(ps))
	for category, pool := range ps {
		copied := NewPool(category)
		for _, track := range pool.tracks {
			t := *track
			copied.tracks = append(copied.tracks, &t)
		}
		clone[category] = copied
	}
	return clone
}

// Categories returns the category names in sorted order
func (ps Pools) Categories() []string {
	names := make([]string, 0, len(ps))
	for category := range ps {
		names = append(names, category)
	}
	sort.Strings(names)
	return names
}
