package radio

import (
	"time"

	"github.com/garry/tunesync/library"
)

// OldAfter is the age after which a Library track is moved to Old
const OldAfter = 540 * 24 * time.Hour

// Move records one category reassignment made by Reclassify
type Move struct {
	TrackID uint
	From    string
	To      string
}

// Reclassify moves Library tracks with fewer than minRecentPlayCount plays to
// RecentAdd and Library tracks added more than OldAfter ago to Old. The play
// count check runs first, so a track qualifying for both ends in RecentAdd.
// RecentAdd tracks that reached the threshold graduate back to Library and
// get the age check in the same pass.
func Reclassify(pools Pools, minRecentPlayCount int, now time.Time) []Move {
	var moves []Move

	libraryTracks := pools.Get(library.CategoryLibrary).Tracks()

	for _, track := range pools.Get(library.CategoryRecentAdd).Tracks() {
		if track.PlayCount < minRecentPlayCount {
			continue
		}
		to := library.CategoryLibrary
		if isOld(track, now) {
			to = library.CategoryOld
		}
		moves = append(moves, Move{TrackID: track.ID, From: library.CategoryRecentAdd, To: to})
		pools.Move(track, to)
	}

	for _, track := range libraryTracks {
		switch {
		case track.PlayCount < minRecentPlayCount:
			moves = append(moves, Move{TrackID: track.ID, From: library.CategoryLibrary, To: library.CategoryRecentAdd})
			pools.Move(track, library.CategoryRecentAdd)
		case isOld(track, now):
			moves = append(moves, Move{TrackID: track.ID, From: library.CategoryLibrary, To: library.CategoryOld})
			pools.Move(track, library.CategoryOld)
		}
	}

	return moves
}

func isOld(track *library.Track, now time.Time) bool {
	return track.DateAdded != nil && now.Sub(*track.DateAdded) > OldAfter
}

// groupMoves collects track ids per destination category, keeping first-seen order
func groupMoves(moves []Move) []library.CategoryMove {
	var grouped []library.CategoryMove
	index := make(map[string]int)
	for _, move := range moves {
		i, ok := index[move.To]
		if !ok {
			i = len(grouped)
			index[move.To] = i
			grouped = append(grouped, library.CategoryMove{Category: move.To})
		}
		grouped[i].TrackIDs = append(grouped[i].TrackIDs, move.TrackID)
	}
	return grouped
}
