package match

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/library"
	"github.com/garry/tunesync/spotify"
	"github.com/rs/zerolog"
)

// Thresholds a Spotify track must reach to be linked without force
const (
	MinSongScore   = 60
	MinArtistScore = 70
)

// Review queue reasons
const (
	ReasonMismatch            = "mismatch"
	ReasonUnmatched           = "unmatched"
	ReasonNotFound            = "not_found_in_spotify"
	ReasonConflictingStatuses = "conflicting_statuses"
	ReasonMultipleGoodLinks   = "multiple_good_links"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Catalog is the streaming service the resolver validates against
type Catalog interface {
	SearchTrack(ctx context.Context, title, artist string) (*spotify.Song, error)
	GetTrack(ctx context.Context, id string) (*spotify.Song, error)
}

// Recordings looks up MusicBrainz recording ids
type Recordings interface {
	GetMusicBrainzIDByISRC(ctx context.Context, isrc string) (string, error)
	GetMusicBrainzIDByArtistAndTitle(ctx context.Context, artist, title string) (string, error)
}

// Resolver reconciles local tracks with their Spotify identities
type Resolver struct {
	store      *library.Store
	catalog    Catalog
	recordings Recordings
	logger     zerolog.Logger
}

// NewResolver creates a resolver. catalog and recordings may be nil for the offline operations.
func NewResolver(store *library.Store, catalog Catalog, recordings Recordings, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		catalog:    catalog,
		recordings: recordings,
		logger:     logger.With().Str("component", "resolver").Logger(),
	}
}

// Merge records an Unmatched track deleted as a duplicate of a catalog track
type Merge struct {
	Removed library.Track
	Into    library.Track
	URI     string
}

// AutoResolve deletes Unmatched tracks that are exact duplicates of a catalog
// track: the light-normalized song and artist must score 100 and the
// Unmatched track's URI must be one of the catalog track's URIs. Anything
// less leaves both tracks untouched.
func (r *Resolver) AutoResolve(ctx context.Context) ([]Merge, error) {
	tracks, err := r.store.AllTracksWithURIs(ctx)
	if err != nil {
		return nil, err
	}

	var unmatched, catalog []library.Track
	for _, track := range tracks {
		if track.Category == library.CategoryUnmatched {
			unmatched = append(unmatched, track)
		} else {
			catalog = append(catalog, track)
		}
	}

	type normalized struct {
		song, artist string
	}
	forms := make([]normalized, len(catalog))
	for i, track := range catalog {
		forms[i] = normalized{song: NormalizeText(track.Song), artist: NormalizeText(track.Artist)}
	}

	var merges []Merge
	for _, candidate := range unmatched {
		if err := ctx.Err(); err != nil {
			return merges, err
		}

		song := NormalizeText(candidate.Song)
		artist := NormalizeText(candidate.Artist)
		for i, existing := range catalog {
			score := Score{Song: TokenSetRatio(song, forms[i].song), Artist: TokenSetRatio(artist, forms[i].artist)}
			score.Weighted = Weighted(score.Song, score.Artist)
			if !score.Perfect() {
				continue
			}
			uri, ok := sharedURI(candidate, existing)
			if !ok {
				continue
			}

			err := r.store.Transaction(ctx, func(tx *library.Store) error {
				return tx.DeleteTracks(ctx, []uint{candidate.ID})
			})
			if err != nil {
				return merges, errors.Wrapf(err, "failed to merge unmatched track %d", candidate.ID)
			}

			r.logger.Warn().
				Uint("removed_track_id", candidate.ID).
				Uint("kept_track_id", existing.ID).
				Str("artist", candidate.Artist).
				Str("song", candidate.Song).
				Str("uri", uri).
				Msg("deleted unmatched track as duplicate")
			merges = append(merges, Merge{Removed: candidate, Into: existing, URI: uri})
			break
		}
	}

	return merges, nil
}

// sharedURI returns the URI of the unmatched track that also belongs to existing
func sharedURI(unmatched, existing library.Track) (string, bool) {
	for _, a := range unmatched.SpotifyURIs {
		if a.URI == "" {
			continue
		}
		for _, b := range existing.SpotifyURIs {
			if a.URI == b.URI {
				return a.URI, true
			}
		}
	}
	return "", false
}

// Candidate is a catalog track proposed as the identity of another track
type Candidate struct {
	Track     library.Track
	Score     Score
	SharedURI bool
}

// Candidates ranks catalog tracks by similarity to the track for operator review
func (r *Resolver) Candidates(ctx context.Context, trackID uint, limit int) ([]Candidate, error) {
	track, err := r.store.Track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	tracks, err := r.store.AllTracksWithURIs(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, other := range tracks {
		if other.ID == track.ID || other.Category == library.CategoryUnmatched {
			continue
		}
		score := Compare(NormalizeText, track.Song, track.Artist, other.Song, other.Artist)
		if score.Weighted == 0 {
			continue
		}
		_, shared := sharedURI(*track, other)
		candidates = append(candidates, Candidate{Track: other, Score: score, SharedURI: shared})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score.Weighted > candidates[j].Score.Weighted
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ReviewItem is a track an operator needs to look at
type ReviewItem struct {
	Track  library.Track
	Reason string
}

// ReviewQueue lists ambiguous links and tracks whose URI records contradict each other
func (r *Resolver) ReviewQueue(ctx context.Context) ([]ReviewItem, error) {
	tracks, err := r.store.AllTracksWithURIs(ctx)
	if err != nil {
		return nil, err
	}

	var items []ReviewItem
	for _, track := range tracks {
		if reason := reviewReason(track.SpotifyURIs); reason != "" {
			items = append(items, ReviewItem{Track: track, Reason: reason})
		}
	}
	return items, nil
}

func reviewReason(uris []library.SpotifyURI) string {
	good := make(map[string]bool)
	var goodCount int
	var absent, mismatch, unmatched, notFound bool
	for _, uri := range uris {
		switch uri.Status {
		case library.StatusMatched, library.StatusManualMatch:
			goodCount++
			good[uri.URI] = true
		case library.StatusMismatch:
			mismatch = true
		case library.StatusUnmatched:
			unmatched = true
		case library.StatusNotFoundInSpotify:
			notFound = true
			absent = true
		case library.StatusConfirmedNoSpotify:
			absent = true
		}
	}

	switch {
	case goodCount > 0 && absent:
		return ReasonConflictingStatuses
	case goodCount > 1:
		return ReasonMultipleGoodLinks
	case goodCount > 0:
		return ""
	case mismatch:
		return ReasonMismatch
	case notFound:
		return ReasonNotFound
	case unmatched:
		return ReasonUnmatched
	}
	return ""
}

// LinkResult is the outcome of a link attempt, always carrying a message for the operator
type LinkResult struct {
	OK      bool
	URI     string
	Status  string
	Score   Score
	Message string
}

// Link validates an operator supplied Spotify URI or URL and links it to the
// track. With force only the track's existence is checked and the link
// becomes manual_match. Otherwise the Spotify title and artist must reach
// MinSongScore and MinArtistScore and the link becomes matched. Failures are
// reported in the result and leave the track's records unchanged.
func (r *Resolver) Link(ctx context.Context, trackID uint, input string, force bool) LinkResult {
	track, err := r.store.Track(ctx, trackID)
	if err != nil {
		return LinkResult{Message: fmt.Sprintf("Track %d could not be loaded: %v", trackID, err)}
	}

	uri, err := ParseSpotifyURI(input)
	if err != nil {
		return LinkResult{Message: fmt.Sprintf("'%s' is not a Spotify track URI or URL", input)}
	}

	if r.catalog == nil {
		return LinkResult{URI: uri, Message: "Spotify is not configured, set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET"}
	}

	song, err := r.catalog.GetTrack(ctx, TrackID(uri))
	if errors.Is(err, spotify.ErrNotFound) {
		return LinkResult{URI: uri, Message: fmt.Sprintf("Spotify has no track %s", uri)}
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("uri", uri).Msg("spotify lookup failed")
		return LinkResult{URI: uri, Message: fmt.Sprintf("Could not verify %s with Spotify: %v", uri, err)}
	}

	status := library.StatusManualMatch
	score := scoreSong(track, song)
	if !force {
		if score.Song < MinSongScore || score.Artist < MinArtistScore {
			return LinkResult{
				URI:   uri,
				Score: score,
				Message: fmt.Sprintf("'%s' by %s does not look like '%s' by %s (song %d%%, artist %d%%), use force to link anyway",
					song.Name, song.Artist, track.Song, track.Artist, score.Song, score.Artist),
			}
		}
		status = library.StatusMatched
	}

	if err := r.apply(ctx, track, uri, status); err != nil {
		r.logger.Error().Err(err).Uint("track_id", track.ID).Msg("link failed")
		return LinkResult{URI: uri, Score: score, Message: fmt.Sprintf("Could not save the link: %v", err)}
	}

	r.logger.Info().Uint("track_id", track.ID).Str("uri", uri).Str("status", status).Msg("track linked")
	return LinkResult{
		OK:      true,
		URI:     uri,
		Status:  status,
		Score:   score,
		Message: fmt.Sprintf("Linked '%s' by %s to %s (%s)", track.Song, track.Artist, uri, status),
	}
}

// apply upserts the chosen record and removes the track's other records,
// keeping mismatch_accepted history. An Unmatched track that gets a good
// link joins the Library.
func (r *Resolver) apply(ctx context.Context, track *library.Track, uri, status string) error {
	return r.store.Transaction(ctx, func(tx *library.Store) error {
		existing, err := tx.TrackURIs(ctx, track.ID)
		if err != nil {
			return err
		}

		chosen := &library.SpotifyURI{TrackID: track.ID, URI: uri}
		var stale []uint
		for _, record := range existing {
			switch {
			case uri != "" && record.URI == uri && chosen.ID == 0:
				chosen.ID = record.ID
				chosen.CreatedAt = record.CreatedAt
			case record.Status == library.StatusMismatchAccepted:
				// history
			default:
				stale = append(stale, record.ID)
			}
		}

		chosen.Status = status
		if err := tx.SaveURI(ctx, chosen); err != nil {
			return err
		}
		if err := tx.DeleteURIs(ctx, stale); err != nil {
			return err
		}

		if library.IsGoodStatus(status) && track.Category == library.CategoryUnmatched {
			return tx.UpdateCategory(ctx, []uint{track.ID}, library.CategoryLibrary)
		}
		return nil
	})
}

// AcceptMismatch confirms that a mismatch record is acceptable as is
func (r *Resolver) AcceptMismatch(ctx context.Context, uriID uint) error {
	record, err := r.store.URI(ctx, uriID)
	if err != nil {
		return err
	}
	if record.Status != library.StatusMismatch {
		return errors.WithHintf(
			errors.Wrapf(ErrInvalidTransition, "uri %d is %s", uriID, record.Status),
			"only %s records can be accepted", library.StatusMismatch)
	}

	record.Status = library.StatusMismatchAccepted
	if err := r.store.SaveURI(ctx, record); err != nil {
		return err
	}
	r.logger.Info().Uint("uri_id", uriID).Uint("track_id", record.TrackID).Msg("mismatch accepted")
	return nil
}

// Repair keeps one URI record of a track and deletes the rest, as confirmed by an operator
func (r *Resolver) Repair(ctx context.Context, trackID, keepURIID uint) error {
	err := r.store.Transaction(ctx, func(tx *library.Store) error {
		records, err := tx.TrackURIs(ctx, trackID)
		if err != nil {
			return err
		}

		var remove []uint
		kept := false
		for _, record := range records {
			if record.ID == keepURIID {
				kept = true
				continue
			}
			remove = append(remove, record.ID)
		}
		if !kept {
			return errors.Wrapf(library.ErrURINotFound, "uri %d does not belong to track %d", keepURIID, trackID)
		}
		return tx.DeleteURIs(ctx, remove)
	})
	if err != nil {
		return err
	}

	r.logger.Info().Uint("track_id", trackID).Uint("kept_uri_id", keepURIID).Msg("track uris repaired")
	return nil
}

// Correlation is the outcome of searching Spotify for a local track
type Correlation struct {
	Changed       bool
	Status        string
	URI           string
	Score         Score
	MusicBrainzID string
	Message       string
}

// Correlate searches Spotify for the track and records the result: matched
// above the thresholds, mismatch below them and not_found_in_spotify when
// nothing comes back (with a MusicBrainz recording id as a review hint).
// Lookup failures change nothing and are reported in the message.
func (r *Resolver) Correlate(ctx context.Context, track library.Track) Correlation {
	if r.catalog == nil {
		return Correlation{Message: "Spotify is not configured, set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET"}
	}

	existing, err := r.store.TrackURIs(ctx, track.ID)
	if err != nil {
		return Correlation{Message: fmt.Sprintf("Could not load links of '%s': %v", track.Song, err)}
	}
	for _, record := range existing {
		if record.IsGood() {
			return Correlation{Status: record.Status, URI: record.URI, Message: fmt.Sprintf("'%s' is already linked to %s", track.Song, record.URI)}
		}
	}

	song, err := r.catalog.SearchTrack(ctx, track.Song, track.Artist)
	if errors.Is(err, spotify.ErrNotFound) {
		result := Correlation{Status: library.StatusNotFoundInSpotify}
		if err := r.apply(ctx, &track, "", library.StatusNotFoundInSpotify); err != nil {
			return Correlation{Message: fmt.Sprintf("Could not save result for '%s': %v", track.Song, err)}
		}
		result.Changed = true
		result.MusicBrainzID = r.recordingHint(ctx, track, "")
		result.Message = fmt.Sprintf("'%s' by %s was not found on Spotify", track.Song, track.Artist)
		return result
	}
	if err != nil {
		r.logger.Warn().Err(err).Uint("track_id", track.ID).Msg("spotify search failed")
		return Correlation{Message: fmt.Sprintf("Could not search Spotify for '%s': %v", track.Song, err)}
	}

	score := scoreSong(&track, song)
	status := library.StatusMatched
	if score.Song < MinSongScore || score.Artist < MinArtistScore {
		status = library.StatusMismatch
	}
	if err := r.apply(ctx, &track, song.URI, status); err != nil {
		return Correlation{Message: fmt.Sprintf("Could not save result for '%s': %v", track.Song, err)}
	}

	var mbid string
	if status == library.StatusMatched && track.MusicBrainzID == "" && song.ISRC != "" {
		mbid = r.recordingHint(ctx, track, song.ISRC)
	}

	r.logger.Debug().
		Uint("track_id", track.ID).
		Str("uri", song.URI).
		Str("status", status).
		Float64("score", score.Weighted).
		Msg("track correlated")
	return Correlation{
		Changed:       true,
		Status:        status,
		URI:           song.URI,
		Score:         score,
		MusicBrainzID: mbid,
		Message:       fmt.Sprintf("'%s' by %s -> '%s' by %s (%s)", track.Song, track.Artist, song.Name, song.Artist, status),
	}
}

// recordingHint stores a MusicBrainz recording id for the track, by ISRC when
// one is known and by artist and title otherwise
func (r *Resolver) recordingHint(ctx context.Context, track library.Track, isrc string) string {
	if r.recordings == nil {
		return ""
	}
	var mbid string
	var err error
	if isrc != "" {
		mbid, err = r.recordings.GetMusicBrainzIDByISRC(ctx, isrc)
	} else {
		mbid, err = r.recordings.GetMusicBrainzIDByArtistAndTitle(ctx, track.Artist, track.Song)
	}
	if err != nil || mbid == "" {
		r.logger.Debug().Err(err).Uint("track_id", track.ID).Msg("no musicbrainz recording")
		return ""
	}
	if err := r.store.SetMusicBrainzID(ctx, track.ID, mbid); err != nil {
		r.logger.Warn().Err(err).Uint("track_id", track.ID).Msg("could not store musicbrainz id")
		return ""
	}
	return mbid
}

// SyncReport counts correlation outcomes by status
type SyncReport struct {
	Checked  int
	ByStatus map[string]int
	Failed   []string
}

// Sync correlates every track that has no Spotify record yet
func (r *Resolver) Sync(ctx context.Context, progress func(done, total int)) (*SyncReport, error) {
	tracks, err := r.store.TracksWithoutURIs(ctx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{ByStatus: make(map[string]int)}
	for i, track := range tracks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := r.Correlate(ctx, track)
		report.Checked++
		if result.Changed {
			report.ByStatus[result.Status]++
		} else {
			report.Failed = append(report.Failed, result.Message)
		}
		if progress != nil {
			progress(i+1, len(tracks))
		}
	}
	return report, nil
}

// scoreSong compares a Spotify song with a local track using the strict form,
// trying the primary artist and the full credited artist list
func scoreSong(track *library.Track, song *spotify.Song) Score {
	score := Compare(NormalizeStrict, track.Song, track.Artist, song.Name, song.Artist)
	if len(song.Artists) > 1 {
		all := Compare(NormalizeStrict, track.Song, track.Artist, song.Name, strings.Join(song.Artists, " "))
		if all.Weighted > score.Weighted {
			score = all
		}
	}
	return score
}
